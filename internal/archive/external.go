package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"docprep/internal/fileutil"
	"docprep/internal/logging"
	"docprep/internal/services"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			forward(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	forward := func(line string) {
		if onStdout != nil {
			onStdout(line)
		}
	}

	wg.Add(2)
	go scan(stdout, forward)
	go scan(stderr, forward)

	wg.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("scan output: %w", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}

// strategy describes one external tool for an archive kind: how to list its
// contents for the preflight bound check, and how to extract.
type strategy struct {
	name      string
	binary    string
	args      func(src, dest string) []string
	listArgs  func(src string) []string
	parseList func(lines []string) listing
}

// listing is the entry count and cumulative uncompressed size a tool's
// list mode reports.
type listing struct {
	entries int
	bytes   int64
}

func (o *Opener) rarStrategies() []strategy {
	return []strategy{
		{
			name:   "unrar",
			binary: o.unrarBin,
			args: func(src, dest string) []string {
				return []string{"x", "-o+", "-y", src, dest + string(os.PathSeparator)}
			},
			listArgs: func(src string) []string {
				return []string{"l", "-y", src}
			},
			parseList: parseUnrarListing,
		},
		o.sevenZipStrategy(),
	}
}

func (o *Opener) sevenZipStrategies() []strategy {
	return []strategy{o.sevenZipStrategy()}
}

func (o *Opener) sevenZipStrategy() strategy {
	return strategy{
		name:   "7z",
		binary: o.sevenZip,
		args: func(src, dest string) []string {
			return []string{"x", "-y", "-o" + dest, src}
		},
		listArgs: func(src string) []string {
			return []string{"l", "-slt", "-y", src}
		},
		parseList: parseSevenZipListing,
	}
}

// preflight lists the archive and rejects it when the declared contents
// already violate the bounds, before anything is written to disk. A tool
// failure here is not a verdict; the caller moves on to the next strategy.
func (o *Opener) preflight(ctx context.Context, path string, strat strategy) error {
	var lines []string
	err := o.exec.Run(ctx, strat.binary, strat.listArgs(path), func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		return err
	}
	l := strat.parseList(lines)
	if l.entries > o.maxEntries {
		return o.entryLimitErr(path)
	}
	if l.bytes > o.maxBytes {
		return o.sizeLimitErr(path)
	}
	return nil
}

// parseUnrarListing reads the table between the dashed separators of
// `unrar l` output. Rows carry attributes, size, date, time and name.
func parseUnrarListing(lines []string) listing {
	var l listing
	inTable := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "----") {
			inTable = !inTable
			continue
		}
		if !inTable {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		if strings.ContainsAny(fields[0], "Dd") {
			continue
		}
		l.entries++
		l.bytes += size
	}
	return l
}

// parseSevenZipListing reads the per-entry blocks of `7z l -slt` output.
// Blocks start after the dashed separator; directories carry Folder = +
// or a D attribute.
func parseSevenZipListing(lines []string) listing {
	var l listing
	inBlocks := false
	folder := false
	size := int64(-1)
	flush := func() {
		if size >= 0 && !folder {
			l.entries++
			l.bytes += size
		}
		folder, size = false, -1
	}
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if !inBlocks {
			if strings.HasPrefix(line, "----------") {
				inBlocks = true
			}
			continue
		}
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "Folder = "):
			folder = strings.TrimPrefix(line, "Folder = ") == "+"
		case strings.HasPrefix(line, "Attributes = "):
			if strings.Contains(strings.TrimPrefix(line, "Attributes = "), "D") {
				folder = true
			}
		case strings.HasPrefix(line, "Size = "):
			if v, err := strconv.ParseInt(strings.TrimPrefix(line, "Size = "), 10, 64); err == nil {
				size = v
			}
		}
	}
	flush()
	return l
}

// extractExternal runs the strategies in order until one succeeds. Each
// strategy first lists the archive so declared bounds violations abort
// before anything unpacks; the tool then extracts into a private staging
// directory and bounds are checked again while the staged files move into
// destDir, so a violation never leaves partial output.
func (o *Opener) extractExternal(ctx context.Context, path, destDir string, strategies []strategy) (*Result, error) {
	staging, err := os.MkdirTemp(o.tempDir, "unpack-*")
	if err != nil {
		staging, err = os.MkdirTemp("", "unpack-*")
		if err != nil {
			return nil, services.Wrap(services.ErrExtraction, "archive", "staging", path, err)
		}
	}
	defer os.RemoveAll(staging)

	var lastErr error
	extracted := false
	for _, strat := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, services.Wrap(services.ErrExtraction, "archive", "extract", path, err)
		}
		if err := o.preflight(ctx, path, strat); err != nil {
			if errors.Is(err, services.ErrExtraction) {
				return nil, err
			}
			lastErr = err
			o.logger.Warn("archive listing failed, trying next tool",
				logging.String("tool", strat.name),
				logging.String(logging.FieldFile, filepath.Base(path)),
				logging.Error(err))
			continue
		}
		runErr := o.exec.Run(ctx, strat.binary, strat.args(path, staging), nil)
		if runErr == nil {
			extracted = true
			break
		}
		lastErr = runErr
		o.logger.Warn("extraction tool failed, trying next",
			logging.String("tool", strat.name),
			logging.String(logging.FieldFile, filepath.Base(path)),
			logging.Error(runErr))
		// Partial output from the failed tool must not leak into the
		// next attempt.
		if err := resetDir(staging); err != nil {
			return nil, services.Wrap(services.ErrExtraction, "archive", "staging", path, err)
		}
	}
	if !extracted {
		return nil, services.Wrap(services.ErrExternalTool, "archive", "extract",
			fmt.Sprintf("all extraction tools failed for %s", filepath.Base(path)), lastErr)
	}

	return o.collectStaged(path, staging, destDir)
}

// collectStaged moves staged files into destDir, enforcing bounds and path
// sanitization per file.
func (o *Opener) collectStaged(archivePath, staging, destDir string) (*Result, error) {
	result := &Result{}
	walkErr := filepath.WalkDir(staging, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(staging, p)
		if err != nil {
			return err
		}
		clean, sanErr := fileutil.SanitizeRelPath(rel)
		if sanErr != nil {
			result.Skipped = append(result.Skipped, SkippedEntry{Name: rel, Reason: sanErr.Error()})
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if len(result.Extracted) >= o.maxEntries {
			cleanupDest(destDir, result.Extracted)
			return o.entryLimitErr(archivePath)
		}
		if result.TotalSize+info.Size() > o.maxBytes {
			cleanupDest(destDir, result.Extracted)
			return o.sizeLimitErr(archivePath)
		}
		target := filepath.Join(destDir, clean)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := fileutil.MoveFile(p, target); err != nil {
			return err
		}
		result.Extracted = append(result.Extracted, clean)
		result.TotalSize += info.Size()
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, services.ErrExtraction) {
			return nil, walkErr
		}
		return nil, services.Wrap(services.ErrExtraction, "archive", "collect", archivePath, walkErr)
	}
	return result, nil
}

func resetDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

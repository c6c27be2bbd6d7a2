// Package archive unpacks unit archives under hard resource bounds. ZIP is
// handled natively; RAR and 7z run through an ordered list of external tool
// strategies behind an injectable executor. Bounds are enforced while
// content lands, and a violation removes everything already extracted.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"docprep/internal/config"
	"docprep/internal/logging"
	"docprep/internal/services"
)

// SkippedEntry records an archive member that was not extracted.
type SkippedEntry struct {
	Name   string
	Reason string
}

// Result summarizes one extraction.
type Result struct {
	Extracted []string
	Skipped   []SkippedEntry
	TotalSize int64
}

// Opener extracts archives with size and entry-count bounds.
type Opener struct {
	maxBytes   int64
	maxEntries int
	tempDir    string
	exec       Executor
	unrarBin   string
	sevenZip   string
	logger     *slog.Logger
}

// Option configures the opener.
type Option func(*Opener)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(o *Opener) {
		if exec != nil {
			o.exec = exec
		}
	}
}

// New constructs an Opener from config limits and tool names.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Opener {
	defaults := config.Default()
	limits := defaults.Limits
	tools := defaults.Tools
	tempDir := os.TempDir()
	if cfg != nil {
		limits = cfg.Limits
		tools = cfg.Tools
		if cfg.Paths.TempDir != "" {
			tempDir = cfg.Paths.TempDir
		}
	}
	o := &Opener{
		maxBytes:   limits.MaxUnpackMB * 1024 * 1024,
		maxEntries: limits.MaxArchiveEntries,
		tempDir:    tempDir,
		exec:       commandExecutor{},
		unrarBin:   tools.Unrar,
		sevenZip:   tools.SevenZip,
		logger:     logging.NewComponentLogger(logger, "archive"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var (
	magicOLE2 = []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}
	magicZip  = []byte("PK\x03\x04")
	magicRar  = []byte("Rar!\x1a\x07")
	magic7z   = []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}
)

var htmlMarkers = [][]byte{[]byte("<html"), []byte("<!doctype"), []byte("<head"), []byte("<body")}

// Extract unpacks the archive at path into destDir. Files that fail path
// sanitization are skipped and recorded; bound violations abort and clean up.
func (o *Opener) Extract(ctx context.Context, path, destDir string) (*Result, error) {
	header := make([]byte, 512)
	f, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrExtraction, "archive", "open", path, err)
	}
	n, _ := io.ReadFull(f, header)
	f.Close()
	header = header[:n]

	if err := rejectNonArchive(header, path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrExtraction, "archive", "prepare", destDir, err)
	}

	var result *Result
	switch {
	case bytes.HasPrefix(header, magicZip):
		result, err = o.extractZip(ctx, path, destDir)
	case bytes.HasPrefix(header, magicRar):
		result, err = o.extractExternal(ctx, path, destDir, o.rarStrategies())
	case bytes.HasPrefix(header, magic7z):
		result, err = o.extractExternal(ctx, path, destDir, o.sevenZipStrategies())
	default:
		return nil, services.Wrap(services.ErrExtraction, "archive", "detect",
			fmt.Sprintf("%s is not a supported archive", filepath.Base(path)), nil)
	}
	if err != nil {
		return nil, err
	}

	o.logger.Info("archive extracted",
		logging.String(logging.FieldFile, filepath.Base(path)),
		logging.Int("files", len(result.Extracted)),
		logging.Int("skipped", len(result.Skipped)),
		logging.Int64("bytes", result.TotalSize))
	return result, nil
}

// rejectNonArchive refuses content that merely wears an archive extension:
// HTML error pages and genuine OLE2 Office documents.
func rejectNonArchive(header []byte, path string) error {
	if bytes.HasPrefix(header, magicOLE2) {
		return services.Wrap(services.ErrExtraction, "archive", "precheck",
			fmt.Sprintf("%s is an OLE2 document, not an archive", filepath.Base(path)), nil)
	}
	lowered := bytes.ToLower(header)
	for _, marker := range htmlMarkers {
		if bytes.Contains(lowered, marker) {
			return services.Wrap(services.ErrExtraction, "archive", "precheck",
				fmt.Sprintf("%s is HTML masquerading as an archive", filepath.Base(path)), nil)
		}
	}
	return nil
}

func (o *Opener) sizeLimitErr(path string) error {
	return services.Wrap(services.ErrExtraction, "archive", "bounds",
		fmt.Sprintf("%s exceeds the %d MB unpack limit", filepath.Base(path), o.maxBytes/(1024*1024)), nil)
}

func (o *Opener) entryLimitErr(path string) error {
	return services.Wrap(services.ErrExtraction, "archive", "bounds",
		fmt.Sprintf("%s exceeds the %d entry limit", filepath.Base(path), o.maxEntries), nil)
}

// cleanupDest removes everything extracted so far after a bound violation.
func cleanupDest(destDir string, extracted []string) {
	for _, rel := range extracted {
		_ = os.Remove(filepath.Join(destDir, rel))
	}
}

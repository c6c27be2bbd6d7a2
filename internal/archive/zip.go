package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"docprep/internal/fileutil"
	"docprep/internal/services"
)

// extractZip unpacks a ZIP natively. Bounds are checked incrementally: the
// entry count before each file and the cumulative uncompressed size while
// each file streams out, so a lying header cannot blow past the limit.
func (o *Opener) extractZip(ctx context.Context, path, destDir string) (*Result, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, services.Wrap(services.ErrExtraction, "archive", "open",
			fmt.Sprintf("%s is not a readable ZIP", filepath.Base(path)), err)
	}
	defer reader.Close()

	result := &Result{}
	for _, entry := range reader.File {
		if err := ctx.Err(); err != nil {
			cleanupDest(destDir, result.Extracted)
			return nil, services.Wrap(services.ErrExtraction, "archive", "extract", path, err)
		}
		name := entry.Name
		if strings.HasSuffix(name, "/") || entry.FileInfo().IsDir() {
			continue
		}
		clean, sanErr := fileutil.SanitizeRelPath(name)
		if sanErr != nil {
			result.Skipped = append(result.Skipped, SkippedEntry{Name: name, Reason: sanErr.Error()})
			continue
		}
		if len(result.Extracted) >= o.maxEntries {
			cleanupDest(destDir, result.Extracted)
			return nil, o.entryLimitErr(path)
		}

		written, err := o.writeZipEntry(entry, filepath.Join(destDir, clean), o.maxBytes-result.TotalSize)
		result.TotalSize += written
		if err != nil {
			cleanupDest(destDir, result.Extracted)
			if err == errUnpackBudget {
				return nil, o.sizeLimitErr(path)
			}
			return nil, services.Wrap(services.ErrExtraction, "archive", "extract",
				fmt.Sprintf("%s entry %s", filepath.Base(path), name), err)
		}
		result.Extracted = append(result.Extracted, clean)
	}
	return result, nil
}

var errUnpackBudget = fmt.Errorf("unpack budget exhausted")

// writeZipEntry streams one entry to disk, refusing to write more than
// budget bytes regardless of the declared uncompressed size.
func (o *Opener) writeZipEntry(entry *zip.File, target string, budget int64) (int64, error) {
	if budget <= 0 {
		return 0, errUnpackBudget
	}
	rc, err := entry.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}

	written, copyErr := io.Copy(out, io.LimitReader(rc, budget))
	closeErr := out.Close()
	if copyErr == nil && closeErr != nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(target)
		return written, copyErr
	}
	if written == budget {
		// Probe one more byte to distinguish an exact fit from overflow.
		var probe [1]byte
		if n, _ := rc.Read(probe[:]); n > 0 {
			_ = os.Remove(target)
			return written, errUnpackBudget
		}
	}
	return written, nil
}

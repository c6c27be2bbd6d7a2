package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"docprep/internal/fileutil"
	"docprep/internal/manifest"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// NewUnit materializes a unit directory under parent with the given files
// and a saved manifest whose records carry real hashes. Returns the unit
// directory path.
func NewUnit(t testing.TB, parent, unitID string, files map[string][]byte) string {
	t.Helper()

	unitDir := filepath.Join(parent, unitID)
	filesDir := filepath.Join(unitDir, "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		t.Fatalf("mkdir unit %s: %v", unitID, err)
	}

	m := manifest.New(unitID)
	for name, content := range files {
		path := filepath.Join(filesDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir for %s: %v", name, err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		hash, err := fileutil.HashFile(path)
		if err != nil {
			t.Fatalf("hash %s: %v", name, err)
		}
		m.Files = append(m.Files, manifest.FileRecord{
			OriginalName: name,
			CurrentName:  name,
			SHA256:       hash,
			Size:         int64(len(content)),
		})
	}
	if err := m.Save(unitDir); err != nil {
		t.Fatalf("save manifest for %s: %v", unitID, err)
	}
	return unitDir
}

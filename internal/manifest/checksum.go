package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// CombinedChecksum derives a unit-level checksum from the per-file SHA256
// values. Hashes are sorted first so the result does not depend on file
// discovery order.
func CombinedChecksum(files []FileRecord) string {
	if len(files) == 0 {
		return ""
	}
	hashes := make([]string, 0, len(files))
	for _, f := range files {
		if f.SHA256 != "" {
			hashes = append(hashes, f.SHA256)
		}
	}
	if len(hashes) == 0 {
		return ""
	}
	sort.Strings(hashes)
	sum := sha256.Sum256([]byte(strings.Join(hashes, "\n")))
	return hex.EncodeToString(sum[:])
}

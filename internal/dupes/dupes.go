// Package dupes finds byte-identical files inside a unit by SHA256 and marks
// every copy except a deterministic canonical. Content is never deleted; the
// marks let downstream parsers skip repeats.
package dupes

import (
	"log/slog"
	"sort"

	"docprep/internal/logging"
	"docprep/internal/manifest"
)

// Group is one set of byte-identical files.
type Group struct {
	ID        string
	SHA256    string
	Canonical string
	Members   []string
}

// Detector groups unit files by content hash.
type Detector struct {
	logger *slog.Logger
}

// New constructs a Detector.
func New(logger *slog.Logger) *Detector {
	return &Detector{logger: logging.NewComponentLogger(logger, "dupes")}
}

// Detect returns duplicate groups among the given records. Only files with a
// computed hash participate; groups need at least two members. The canonical
// member is chosen by sorting on original name, then current name, so the
// outcome does not depend on discovery order.
func (d *Detector) Detect(files []manifest.FileRecord) []Group {
	byHash := make(map[string][]manifest.FileRecord)
	for _, f := range files {
		if f.SHA256 == "" {
			continue
		}
		byHash[f.SHA256] = append(byHash[f.SHA256], f)
	}

	hashes := make([]string, 0, len(byHash))
	for hash, members := range byHash {
		if len(members) >= 2 {
			hashes = append(hashes, hash)
		}
	}
	sort.Strings(hashes)

	groups := make([]Group, 0, len(hashes))
	for _, hash := range hashes {
		members := byHash[hash]
		sort.Slice(members, func(i, j int) bool {
			if members[i].OriginalName != members[j].OriginalName {
				return members[i].OriginalName < members[j].OriginalName
			}
			return members[i].CurrentName < members[j].CurrentName
		})
		names := make([]string, len(members))
		for i, m := range members {
			names[i] = m.CurrentName
		}
		group := Group{
			ID:        "dup-" + hash[:8],
			SHA256:    hash,
			Canonical: names[0],
			Members:   names,
		}
		groups = append(groups, group)
		d.logger.Debug("duplicate group found",
			logging.String("group", group.ID),
			logging.String("canonical", group.Canonical),
			logging.Int("members", len(names)))
	}
	return groups
}

// Mark applies duplicate flags to the manifest's file records and returns
// the detected groups.
func (d *Detector) Mark(m *manifest.Manifest) []Group {
	groups := d.Detect(m.Files)
	for _, group := range groups {
		for _, name := range group.Members {
			record := m.File(name)
			if record == nil {
				continue
			}
			record.DuplicateGroup = group.ID
			if name == group.Canonical {
				continue
			}
			record.IsDuplicate = true
			record.OriginalFile = group.Canonical
		}
	}
	return groups
}

package router

import (
	"os"
	"path/filepath"

	"docprep/internal/cycle"
)

// ClusterCounts maps subcategory to unit count for one cycle.
type ClusterCounts map[string]int

// MergeStatistics counts units per cycle and subcategory under the merge
// trees by reading the directory layout.
func (r *Router) MergeStatistics() map[int]ClusterCounts {
	stats := make(map[int]ClusterCounts, cycle.MaxCycles)
	for n := 1; n <= cycle.MaxCycles; n++ {
		stats[n] = countUnits(r.layout.MergeRoot(n), 1)
	}
	return stats
}

// ExceptionsStatistics counts units per cycle and subcategory under the
// exceptions trees.
func (r *Router) ExceptionsStatistics() map[int]ClusterCounts {
	stats := make(map[int]ClusterCounts, cycle.MaxCycles)
	for n := 1; n <= cycle.MaxCycles; n++ {
		stats[n] = countUnits(r.layout.ExceptionsRoot(n), 0)
	}
	return stats
}

// countUnits tallies unit directories per subcategory. Merge shelves have
// an extension level between subcategory and unit, exceptions do not.
func countUnits(root string, extLevels int) ClusterCounts {
	counts := make(ClusterCounts)
	subcats, err := os.ReadDir(root)
	if err != nil {
		return counts
	}
	for _, subcat := range subcats {
		if !subcat.IsDir() {
			continue
		}
		counts[subcat.Name()] = countDirsAtDepth(filepath.Join(root, subcat.Name()), extLevels)
	}
	return counts
}

func countDirsAtDepth(dir string, depth int) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	total := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if depth == 0 {
			total++
			continue
		}
		total += countDirsAtDepth(filepath.Join(dir, entry.Name()), depth-1)
	}
	return total
}

// Package cycle owns the on-disk triage layout: the Pending_N, Merge_N, and
// Exceptions_N triples under the processing root, and the subcategory rules
// that decide which cluster a unit may enter in a given cycle.
package cycle

import (
	"fmt"
	"os"
	"path/filepath"

	"docprep/internal/classify"
	"docprep/internal/config"
	"docprep/internal/services"
)

// MaxCycles is the number of Pending/Merge/Exceptions triples on disk.
const MaxCycles = 3

// MergeSubcategory labels a merge cluster shelf.
type MergeSubcategory string

const (
	MergeDirect     MergeSubcategory = "direct"
	MergeExtracted  MergeSubcategory = "extracted"
	MergeConverted  MergeSubcategory = "converted"
	MergeNormalized MergeSubcategory = "normalized"
)

// ExceptionsSubcategory labels an exceptions shelf.
type ExceptionsSubcategory string

const (
	ExceptionsSpecial ExceptionsSubcategory = "special"
	ExceptionsMixed   ExceptionsSubcategory = "mixed"
	ExceptionsUnknown ExceptionsSubcategory = "unknown"
)

// pendingCategories are the work shelves under each Pending_N.
var pendingCategories = []classify.Category{
	classify.CategoryNormalize,
	classify.CategoryConvert,
	classify.CategoryExtract,
	classify.CategorySpecial,
	classify.CategoryMixed,
}

// Layout resolves triage directories under the processing root.
type Layout struct {
	root string
}

// NewLayout builds a Layout rooted at the configured processing directory.
func NewLayout(cfg *config.Config) *Layout {
	root := ""
	if cfg != nil {
		root = cfg.Paths.ProcessingDir
	}
	return &Layout{root: root}
}

// Root returns the processing root.
func (l *Layout) Root() string {
	return l.root
}

// RawRoot returns the intake area where units wait for their first cycle.
func (l *Layout) RawRoot() string {
	return filepath.Join(l.root, "Raw")
}

// RawDir returns the intake directory for a unit.
func (l *Layout) RawDir(unitID string) string {
	return filepath.Join(l.RawRoot(), unitID)
}

// PendingRoot returns Pending_N.
func (l *Layout) PendingRoot(n int) string {
	return filepath.Join(l.root, fmt.Sprintf("Pending_%d", n))
}

// MergeRoot returns Merge_N.
func (l *Layout) MergeRoot(n int) string {
	return filepath.Join(l.root, fmt.Sprintf("Merge_%d", n))
}

// ExceptionsRoot returns Exceptions_N.
func (l *Layout) ExceptionsRoot(n int) string {
	return filepath.Join(l.root, fmt.Sprintf("Exceptions_%d", n))
}

// PendingDir returns the unit directory under Pending_N for a category and
// extension shelf.
func (l *Layout) PendingDir(n int, category classify.Category, ext, unitID string) string {
	if ext == "" {
		ext = "none"
	}
	return filepath.Join(l.PendingRoot(n), string(category), ext, unitID)
}

// MergeDir returns the unit directory under Merge_N, enforcing the cluster
// rules: cycle 1 merges only direct content, later cycles merge only content
// that was worked on.
func (l *Layout) MergeDir(n int, subcat MergeSubcategory, ext, unitID string) (string, error) {
	if err := ValidateMerge(n, subcat); err != nil {
		return "", err
	}
	if ext == "" {
		ext = "none"
	}
	return filepath.Join(l.MergeRoot(n), string(subcat), ext, unitID), nil
}

// ExceptionsDir returns the unit directory under Exceptions_N.
func (l *Layout) ExceptionsDir(n int, subcat ExceptionsSubcategory, unitID string) (string, error) {
	if n < 1 || n > MaxCycles {
		return "", services.Wrap(services.ErrDistribution, "cycle", "exceptions",
			fmt.Sprintf("cycle %d out of range", n), nil)
	}
	switch subcat {
	case ExceptionsSpecial, ExceptionsMixed, ExceptionsUnknown:
	default:
		return "", services.Wrap(services.ErrDistribution, "cycle", "exceptions",
			fmt.Sprintf("invalid exceptions subcategory %q", subcat), nil)
	}
	return filepath.Join(l.ExceptionsRoot(n), string(subcat), unitID), nil
}

// ValidateMerge checks the merge subcategory rules for cycle n.
func ValidateMerge(n int, subcat MergeSubcategory) error {
	if n < 1 || n > MaxCycles {
		return services.Wrap(services.ErrDistribution, "cycle", "merge",
			fmt.Sprintf("cycle %d out of range", n), nil)
	}
	switch subcat {
	case MergeDirect:
		if n != 1 {
			return services.Wrap(services.ErrDistribution, "cycle", "merge",
				fmt.Sprintf("direct merges only in cycle 1, got cycle %d", n), nil)
		}
	case MergeExtracted, MergeConverted, MergeNormalized:
		if n == 1 {
			return services.Wrap(services.ErrDistribution, "cycle", "merge",
				fmt.Sprintf("%s merges start in cycle 2, got cycle 1", subcat), nil)
		}
	default:
		return services.Wrap(services.ErrDistribution, "cycle", "merge",
			fmt.Sprintf("invalid merge subcategory %q", subcat), nil)
	}
	return nil
}

// MergeSubcategoryFor maps the work a unit underwent to its merge shelf.
func MergeSubcategoryFor(category classify.Category) (MergeSubcategory, bool) {
	switch category {
	case classify.CategoryDirect:
		return MergeDirect, true
	case classify.CategoryExtract:
		return MergeExtracted, true
	case classify.CategoryConvert:
		return MergeConverted, true
	case classify.CategoryNormalize:
		return MergeNormalized, true
	default:
		return "", false
	}
}

// ExceptionsSubcategoryFor maps a unit verdict to its exceptions shelf.
func ExceptionsSubcategoryFor(category classify.Category) ExceptionsSubcategory {
	switch category {
	case classify.CategoryMixed:
		return ExceptionsMixed
	case classify.CategorySpecial:
		return ExceptionsSpecial
	default:
		return ExceptionsUnknown
	}
}

// NextCycle returns the cycle after n, capped at MaxCycles.
func NextCycle(n int) int {
	if n >= MaxCycles {
		return MaxCycles
	}
	return n + 1
}

// EnsureLayout creates the complete triple tree with category shelves.
func (l *Layout) EnsureLayout() error {
	if err := os.MkdirAll(l.RawRoot(), 0o755); err != nil {
		return fmt.Errorf("create raw area: %w", err)
	}
	for n := 1; n <= MaxCycles; n++ {
		for _, category := range pendingCategories {
			if err := os.MkdirAll(filepath.Join(l.PendingRoot(n), string(category)), 0o755); err != nil {
				return fmt.Errorf("create pending shelf: %w", err)
			}
		}
		for _, subcat := range []MergeSubcategory{MergeDirect, MergeExtracted, MergeConverted, MergeNormalized} {
			if ValidateMerge(n, subcat) != nil {
				continue
			}
			if err := os.MkdirAll(filepath.Join(l.MergeRoot(n), string(subcat)), 0o755); err != nil {
				return fmt.Errorf("create merge shelf: %w", err)
			}
		}
		for _, subcat := range []ExceptionsSubcategory{ExceptionsSpecial, ExceptionsMixed, ExceptionsUnknown} {
			if err := os.MkdirAll(filepath.Join(l.ExceptionsRoot(n), string(subcat)), 0o755); err != nil {
				return fmt.Errorf("create exceptions shelf: %w", err)
			}
		}
	}
	return nil
}

package cycle_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"docprep/internal/classify"
	"docprep/internal/config"
	"docprep/internal/cycle"
	"docprep/internal/services"
)

func newLayout(t *testing.T) *cycle.Layout {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.ProcessingDir = t.TempDir()
	return cycle.NewLayout(&cfg)
}

func TestEnsureLayoutCreatesTriples(t *testing.T) {
	l := newLayout(t)
	if err := l.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	checks := []string{
		filepath.Join(l.PendingRoot(1), "extract"),
		filepath.Join(l.PendingRoot(3), "mixed"),
		filepath.Join(l.MergeRoot(1), "direct"),
		filepath.Join(l.MergeRoot(2), "converted"),
		filepath.Join(l.ExceptionsRoot(3), "unknown"),
	}
	for _, dir := range checks {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q, err=%v", dir, err)
		}
	}
	// Cycle 1 has no worked-content merge shelves and later cycles no direct.
	if _, err := os.Stat(filepath.Join(l.MergeRoot(1), "extracted")); !os.IsNotExist(err) {
		t.Fatal("Merge_1 must not contain an extracted shelf")
	}
	if _, err := os.Stat(filepath.Join(l.MergeRoot(2), "direct")); !os.IsNotExist(err) {
		t.Fatal("Merge_2 must not contain a direct shelf")
	}
}

func TestPendingDir(t *testing.T) {
	l := newLayout(t)
	got := l.PendingDir(2, classify.CategoryConvert, "doc", "unit-5")
	want := filepath.Join(l.Root(), "Pending_2", "convert", "doc", "unit-5")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := l.PendingDir(1, classify.CategoryNormalize, "", "u"); filepath.Base(filepath.Dir(got)) != "none" {
		t.Fatalf("missing extension should shelve under none, got %q", got)
	}
}

func TestMergeDirConstraints(t *testing.T) {
	l := newLayout(t)

	if _, err := l.MergeDir(1, cycle.MergeDirect, "pdf", "u"); err != nil {
		t.Fatalf("cycle 1 direct merge should pass: %v", err)
	}
	if _, err := l.MergeDir(2, cycle.MergeDirect, "pdf", "u"); !errors.Is(err, services.ErrDistribution) {
		t.Fatalf("cycle 2 direct merge should fail, got %v", err)
	}
	if _, err := l.MergeDir(1, cycle.MergeExtracted, "pdf", "u"); !errors.Is(err, services.ErrDistribution) {
		t.Fatalf("cycle 1 extracted merge should fail, got %v", err)
	}
	for _, subcat := range []cycle.MergeSubcategory{cycle.MergeExtracted, cycle.MergeConverted, cycle.MergeNormalized} {
		for _, n := range []int{2, 3} {
			if _, err := l.MergeDir(n, subcat, "pdf", "u"); err != nil {
				t.Fatalf("cycle %d %s merge should pass: %v", n, subcat, err)
			}
		}
	}
	if _, err := l.MergeDir(4, cycle.MergeDirect, "pdf", "u"); err == nil {
		t.Fatal("cycle 4 should be rejected")
	}
	if _, err := l.MergeDir(2, "fancy", "pdf", "u"); err == nil {
		t.Fatal("unknown subcategory should be rejected")
	}
}

func TestExceptionsDir(t *testing.T) {
	l := newLayout(t)
	got, err := l.ExceptionsDir(3, cycle.ExceptionsMixed, "unit-9")
	if err != nil {
		t.Fatalf("ExceptionsDir: %v", err)
	}
	want := filepath.Join(l.Root(), "Exceptions_3", "mixed", "unit-9")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if _, err := l.ExceptionsDir(2, "oops", "u"); err == nil {
		t.Fatal("invalid subcategory should be rejected")
	}
	if _, err := l.ExceptionsDir(0, cycle.ExceptionsSpecial, "u"); err == nil {
		t.Fatal("cycle 0 should be rejected")
	}
}

func TestSubcategoryMapping(t *testing.T) {
	if sub, ok := cycle.MergeSubcategoryFor(classify.CategoryExtract); !ok || sub != cycle.MergeExtracted {
		t.Fatalf("extract should map to extracted, got %s ok=%v", sub, ok)
	}
	if _, ok := cycle.MergeSubcategoryFor(classify.CategorySpecial); ok {
		t.Fatal("special must not map to a merge shelf")
	}
	if sub := cycle.ExceptionsSubcategoryFor(classify.CategoryMixed); sub != cycle.ExceptionsMixed {
		t.Fatalf("mixed should map to mixed, got %s", sub)
	}
	if sub := cycle.ExceptionsSubcategoryFor(classify.CategoryDirect); sub != cycle.ExceptionsUnknown {
		t.Fatalf("fallback should be unknown, got %s", sub)
	}
}

func TestNextCycle(t *testing.T) {
	if got := cycle.NextCycle(1); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := cycle.NextCycle(3); got != 3 {
		t.Fatalf("expected cap at 3, got %d", got)
	}
}

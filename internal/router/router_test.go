package router

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"docprep/internal/config"
	"docprep/internal/cycle"
	"docprep/internal/logging"
	"docprep/internal/manifest"
	"docprep/internal/services"
	"docprep/internal/unitstate"
)

func testRouter(t *testing.T) (*Router, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.ProcessingDir = t.TempDir()
	return New(&cfg, logging.NewNop()), &cfg
}

// seedUnit writes a unit directory with a manifest whose trace ends at the
// given state.
func seedUnit(t *testing.T, parent, id string, trace []string) string {
	t.Helper()
	unitDir := filepath.Join(parent, id)
	filesDir := filepath.Join(unitDir, "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(filesDir, "doc.pdf"), []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	m := manifest.New(id)
	m.Files = append(m.Files, manifest.FileRecord{OriginalName: "doc.pdf", CurrentName: "doc.pdf"})
	m.SetTrace(trace)
	if err := m.Save(unitDir); err != nil {
		t.Fatalf("save manifest: %v", err)
	}
	return unitDir
}

func TestRouteMergeDirect(t *testing.T) {
	r, cfg := testRouter(t)
	unitDir := seedUnit(t, filepath.Join(t.TempDir(), "stage"), "unit-100", []string{"RAW_INPUT", "CLASSIFIED_1"})

	target, err := r.RouteMerge(unitDir, 1, cycle.MergeDirect, "pdf", "direct")
	if err != nil {
		t.Fatalf("RouteMerge: %v", err)
	}
	want := filepath.Join(cfg.Paths.ProcessingDir, "Merge_1", "direct", "pdf", "unit-100")
	if target != want {
		t.Fatalf("target = %s, want %s", target, want)
	}
	if _, err := os.Stat(unitDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("source directory should be gone after routing")
	}
	m, err := manifest.Load(target)
	if err != nil {
		t.Fatalf("load routed manifest: %v", err)
	}
	if m.StateMachine.CurrentState != "MERGED_1_DIRECT" {
		t.Fatalf("state = %s", m.StateMachine.CurrentState)
	}
	if m.Processing.FinalCluster != "Merge_1/direct" || m.Processing.FinalReason != "direct" {
		t.Fatalf("cluster/reason = %s/%s", m.Processing.FinalCluster, m.Processing.FinalReason)
	}
}

func TestRouteMergeRejectsDirectAfterCycleOne(t *testing.T) {
	r, _ := testRouter(t)
	unitDir := seedUnit(t, filepath.Join(t.TempDir(), "stage"), "unit-101",
		[]string{"RAW_INPUT", "CLASSIFIED_1", "PENDING_1", "CLASSIFIED_2"})

	_, err := r.RouteMerge(unitDir, 2, cycle.MergeDirect, "pdf", "direct")
	if !errors.Is(err, services.ErrDistribution) {
		t.Fatalf("expected distribution error, got %v", err)
	}
}

func TestRouteExceptions(t *testing.T) {
	r, cfg := testRouter(t)
	unitDir := seedUnit(t, filepath.Join(t.TempDir(), "stage"), "unit-102", []string{"RAW_INPUT", "CLASSIFIED_1"})

	target, err := r.RouteExceptions(unitDir, 1, cycle.ExceptionsSpecial, "cannot_process")
	if err != nil {
		t.Fatalf("RouteExceptions: %v", err)
	}
	want := filepath.Join(cfg.Paths.ProcessingDir, "Exceptions_1", "special", "unit-102")
	if target != want {
		t.Fatalf("target = %s, want %s", target, want)
	}
	m, err := manifest.Load(target)
	if err != nil {
		t.Fatalf("load routed manifest: %v", err)
	}
	if m.StateMachine.CurrentState != "EXCEPTIONS_1" {
		t.Fatalf("state = %s", m.StateMachine.CurrentState)
	}
}

func TestRouteRefusesIllegalTransition(t *testing.T) {
	r, _ := testRouter(t)
	unitDir := seedUnit(t, filepath.Join(t.TempDir(), "stage"), "unit-103", []string{"RAW_INPUT"})

	// RAW_INPUT cannot jump straight to a merge state.
	_, err := r.RouteMerge(unitDir, 1, cycle.MergeDirect, "pdf", "direct")
	if !errors.Is(err, services.ErrTransition) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if _, statErr := os.Stat(unitDir); statErr != nil {
		t.Fatal("unit must stay in place after a refused transition")
	}
}

func TestRouteOverwritesStaleTarget(t *testing.T) {
	r, cfg := testRouter(t)
	unitDir := seedUnit(t, filepath.Join(t.TempDir(), "stage"), "unit-104", []string{"RAW_INPUT", "CLASSIFIED_1"})

	stale := filepath.Join(cfg.Paths.ProcessingDir, "Merge_1", "direct", "pdf", "unit-104")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatalf("mkdir stale: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stale, "leftover.txt"), []byte("old run"), 0o644); err != nil {
		t.Fatalf("seed stale: %v", err)
	}

	target, err := r.RouteMerge(unitDir, 1, cycle.MergeDirect, "pdf", "direct")
	if err != nil {
		t.Fatalf("RouteMerge: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "leftover.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("stale content should be replaced")
	}
	if _, err := os.Stat(filepath.Join(target, "files", "doc.pdf")); err != nil {
		t.Fatalf("routed content missing: %v", err)
	}
}

func TestLocateFindsPendingUnit(t *testing.T) {
	r, cfg := testRouter(t)
	shelf := filepath.Join(cfg.Paths.ProcessingDir, "Pending_1", "convert", "docx")
	seedUnit(t, shelf, "unit-105", []string{"RAW_INPUT", "CLASSIFIED_1", "PENDING_1"})

	dir, state, err := r.Locate("unit-105")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if filepath.Base(dir) != "unit-105" {
		t.Fatalf("dir = %s", dir)
	}
	if state != unitstate.StatePending1 {
		t.Fatalf("state = %s", state)
	}
}

func TestLocateManifestWinsOverShelf(t *testing.T) {
	r, cfg := testRouter(t)
	// Unit sits on a Pending_1 shelf but its manifest says EXCEPTIONS_1.
	shelf := filepath.Join(cfg.Paths.ProcessingDir, "Pending_1", "convert", "docx")
	seedUnit(t, shelf, "unit-106", []string{"RAW_INPUT", "CLASSIFIED_1", "EXCEPTIONS_1"})

	_, state, err := r.Locate("unit-106")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if state != unitstate.StateExceptions1 {
		t.Fatalf("manifest state should win, got %s", state)
	}
}

func TestLocateMissingUnit(t *testing.T) {
	r, _ := testRouter(t)
	_, _, err := r.Locate("unit-ghost")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatistics(t *testing.T) {
	r, cfg := testRouter(t)
	root := cfg.Paths.ProcessingDir
	for _, dir := range []string{
		filepath.Join(root, "Merge_1", "direct", "pdf", "unit-a"),
		filepath.Join(root, "Merge_1", "direct", "pdf", "unit-b"),
		filepath.Join(root, "Merge_2", "extracted", "pdf", "unit-c"),
		filepath.Join(root, "Exceptions_1", "special", "unit-d"),
		filepath.Join(root, "Exceptions_3", "unknown", "unit-e"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	merge := r.MergeStatistics()
	if merge[1]["direct"] != 2 {
		t.Fatalf("Merge_1 direct = %d", merge[1]["direct"])
	}
	if merge[2]["extracted"] != 1 {
		t.Fatalf("Merge_2 extracted = %d", merge[2]["extracted"])
	}
	exceptions := r.ExceptionsStatistics()
	if exceptions[1]["special"] != 1 || exceptions[3]["unknown"] != 1 {
		t.Fatalf("exceptions = %v", exceptions)
	}
}

package workflow_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"docprep/internal/config"
	"docprep/internal/cycle"
	"docprep/internal/logging"
	"docprep/internal/manifest"
	"docprep/internal/metrics"
	"docprep/internal/testsupport"
	"docprep/internal/unitstate"
	"docprep/internal/workflow"
)

func newRunner(t *testing.T, cfg *config.Config) *workflow.Runner {
	t.Helper()
	store := testsupport.MustOpenCatalog(t, cfg)
	r, err := workflow.New(cfg, store, metrics.NewCollector(), logging.NewNop(),
		workflow.WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("workflow.New: %v", err)
	}
	return r
}

func dropRawFile(t *testing.T, cfg *config.Config, name string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(cfg.Paths.RawDir, 0o755); err != nil {
		t.Fatalf("mkdir raw: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Paths.RawDir, name), content, 0o644); err != nil {
		t.Fatalf("write raw file: %v", err)
	}
}

func TestRunOnceProcessesIntake(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r := newRunner(t, cfg)
	defer r.Close()

	// A loose file becomes its own unit with a minted id.
	dropRawFile(t, cfg, "offer.pdf", []byte("%PDF-1.4 body"))

	// A delivered directory keeps its manifest id.
	unitDir := filepath.Join(cfg.Paths.RawDir, "tender-77")
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		t.Fatalf("mkdir unit: %v", err)
	}
	if err := os.WriteFile(filepath.Join(unitDir, "bid.pdf"), []byte("%PDF-1.4 bid"), 0o644); err != nil {
		t.Fatalf("write unit file: %v", err)
	}
	if err := manifest.New("tender-77").Save(unitDir); err != nil {
		t.Fatalf("seed manifest: %v", err)
	}

	summary, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Intaken != 2 {
		t.Fatalf("intaken = %d, want 2", summary.Intaken)
	}
	if summary.Processed != 2 || summary.Ready != 2 {
		t.Fatalf("summary = %+v, want 2 processed, 2 ready", summary)
	}

	entries, err := os.ReadDir(cfg.Paths.RawDir)
	if err != nil {
		t.Fatalf("read raw dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("raw dir not drained: %v", entries)
	}

	store := testsupport.MustOpenCatalog(t, cfg)
	record, err := store.Get(context.Background(), "tender-77")
	if err != nil {
		t.Fatalf("catalog get: %v", err)
	}
	if record.State != string(unitstate.StateReady) {
		t.Fatalf("catalog state = %s, want READY", record.State)
	}
}

func TestRunOnceResumesPendingUnits(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r := newRunner(t, cfg)
	defer r.Close()

	layout := cycle.NewLayout(cfg)
	if err := layout.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	shelf := filepath.Join(layout.PendingRoot(1), "normalize", "pdf")
	testsupport.NewUnit(t, shelf, "unit-88", map[string][]byte{
		"scan.pdf": []byte("%PDF-1.4 scan"),
	})
	unitDir := filepath.Join(shelf, "unit-88")
	m, err := manifest.Load(unitDir)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	m.SetTrace([]string{"RAW_INPUT", "CLASSIFIED_1", "PENDING_1"})
	m.Processing.CurrentCycle = 1
	if err := m.Save(unitDir); err != nil {
		t.Fatalf("save manifest: %v", err)
	}

	summary, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Processed != 1 || summary.Ready != 1 {
		t.Fatalf("summary = %+v, want the pending unit finished", summary)
	}
	if _, err := os.Stat(unitDir); !os.IsNotExist(err) {
		t.Fatalf("pending shelf not vacated: %v", err)
	}
}

func TestRunnerLockExcludesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newRunner(t, cfg)
	defer first.Close()

	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !first.Running() {
		t.Fatal("runner should report running")
	}

	second := newRunner(t, cfg)
	defer second.Close()
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second instance acquired the lock")
	}

	first.Stop()
	if first.Running() {
		t.Fatal("runner should report stopped")
	}

	// The lock is free again after Stop.
	if _, err := second.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce after release: %v", err)
	}
}

func TestRunStartDrainsIntake(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r := newRunner(t, cfg)
	defer r.Close()

	dropRawFile(t, cfg, "notice.pdf", []byte("%PDF-1.4 notice"))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := os.ReadDir(cfg.Paths.RawDir)
		if err == nil && len(entries) == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("intake not drained by background sweep")
}

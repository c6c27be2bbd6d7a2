package catalog_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"docprep/internal/catalog"
	"docprep/internal/manifest"
	"docprep/internal/services"
	"docprep/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	ctx := context.Background()
	rec := &catalog.Record{UnitID: "unit-001", State: "RAW_INPUT"}
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	fetched, err := store.Get(ctx, "unit-001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.State != "RAW_INPUT" {
		t.Fatalf("unexpected fetched record: %#v", fetched)
	}
}

func TestUpsertReplacesExisting(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	if err := store.Upsert(ctx, &catalog.Record{UnitID: "unit-002", State: "RAW_INPUT"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	update := &catalog.Record{
		UnitID:       "unit-002",
		State:        "READY",
		Cycle:        1,
		FinalCluster: "Merge_1/direct",
		FinalReason:  "direct",
	}
	if err := store.Upsert(ctx, update); err != nil {
		t.Fatalf("Upsert update failed: %v", err)
	}

	fetched, err := store.Get(ctx, "unit-002")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.State != "READY" || fetched.FinalCluster != "Merge_1/direct" {
		t.Fatalf("update not applied: %#v", fetched)
	}
}

func TestGetMissingUnit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	_, err := store.Get(context.Background(), "unit-ghost")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListByStateAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	states := []string{"READY", "READY", "PENDING_1", "EXCEPTIONS_2"}
	for i, state := range states {
		rec := &catalog.Record{UnitID: fmt.Sprintf("unit-%03d", i), State: state}
		if err := store.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	ready, err := store.ListByState(ctx, "READY")
	if err != nil {
		t.Fatalf("ListByState failed: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("expected 2 READY units, got %d", len(ready))
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats["READY"] != 2 || stats["PENDING_1"] != 1 || stats["EXCEPTIONS_2"] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 4 || health.Ready != 2 || health.Exceptions != 1 || health.Active != 1 {
		t.Fatalf("unexpected health: %#v", health)
	}
}

func TestFromManifestSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	m := manifest.New("unit-010")
	m.ProtocolID = "proc-42"
	m.SetState("CLASSIFIED_1")
	m.Processing.CurrentCycle = 1

	rec := catalog.FromManifest(m, "convert", "")
	if err := store.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	fetched, err := store.Get(ctx, "unit-010")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.ProtocolID != "proc-42" || fetched.State != "CLASSIFIED_1" || fetched.Cycle != 1 {
		t.Fatalf("snapshot fields wrong: %#v", fetched)
	}
	if fetched.ManifestJSON == "" {
		t.Fatal("manifest snapshot missing")
	}
}

func TestUpsertRequiresUnitID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	err := store.Upsert(context.Background(), &catalog.Record{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// Package catalog indexes units in SQLite. The catalog is a queryable
// index only; the manifest on disk stays authoritative for every unit.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"docprep/internal/config"
	"docprep/internal/manifest"
	"docprep/internal/services"
	"docprep/internal/unitstate"
)

// Store manages unit persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Record is one unit row.
type Record struct {
	UnitID       string
	ProtocolID   string
	State        string
	Cycle        int
	Category     string
	Route        string
	FinalCluster string
	FinalReason  string
	ErrorMessage string
	ManifestJSON string
	CreatedAt    string
	UpdatedAt    string
}

// HealthSummary aggregates unit counts for diagnostic output.
type HealthSummary struct {
	Total      int
	Active     int
	Ready      int
	Exceptions int
}

// Open initializes or connects to the catalog database and applies
// migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.Paths.CatalogPath
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// FromManifest builds a catalog record snapshot from a manifest.
func FromManifest(m *manifest.Manifest, category, errorMessage string) *Record {
	snapshot, err := json.Marshal(m)
	if err != nil {
		snapshot = nil
	}
	return &Record{
		UnitID:       m.UnitID,
		ProtocolID:   m.ProtocolID,
		State:        m.StateMachine.CurrentState,
		Cycle:        m.Processing.CurrentCycle,
		Category:     category,
		Route:        m.Processing.Route,
		FinalCluster: m.Processing.FinalCluster,
		FinalReason:  m.Processing.FinalReason,
		ErrorMessage: errorMessage,
		ManifestJSON: string(snapshot),
	}
}

// Upsert inserts or updates a unit row keyed by unit id.
func (s *Store) Upsert(ctx context.Context, rec *Record) error {
	if rec == nil || rec.UnitID == "" {
		return services.Wrap(services.ErrValidation, "catalog", "upsert", "record with unit id required", nil)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO units (
            unit_id, protocol_id, state, cycle, category, route,
            final_cluster, final_reason, error_message, manifest_json,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(unit_id) DO UPDATE SET
            protocol_id = excluded.protocol_id,
            state = excluded.state,
            cycle = excluded.cycle,
            category = excluded.category,
            route = excluded.route,
            final_cluster = excluded.final_cluster,
            final_reason = excluded.final_reason,
            error_message = excluded.error_message,
            manifest_json = excluded.manifest_json,
            updated_at = excluded.updated_at`,
		rec.UnitID, rec.ProtocolID, rec.State, rec.Cycle, rec.Category, rec.Route,
		rec.FinalCluster, rec.FinalReason, rec.ErrorMessage, rec.ManifestJSON,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert unit %s: %w", rec.UnitID, err)
	}
	return nil
}

// Get returns the record for a unit id.
func (s *Store) Get(ctx context.Context, unitID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM units WHERE unit_id = ?`, unitID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "catalog", "get",
			fmt.Sprintf("unit %s not in catalog", unitID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get unit %s: %w", unitID, err)
	}
	return rec, nil
}

// ListByState returns all records in the given state ordered by update time.
func (s *Store) ListByState(ctx context.Context, state string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` FROM units WHERE state = ? ORDER BY updated_at`, state)
	if err != nil {
		return nil, fmt.Errorf("list units by state: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats returns a count of units grouped by state.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM units GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("catalog stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// Health aggregates unit state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for state, count := range stats {
		health.Total += count
		parsed, ok := unitstate.ParseState(state)
		switch {
		case parsed == unitstate.StateReady:
			health.Ready += count
		case ok && unitstate.IsTerminal(parsed):
			health.Exceptions += count
		default:
			health.Active += count
		}
	}
	return health, nil
}

const selectColumns = `SELECT unit_id, protocol_id, state, cycle, category, route,
    final_cluster, final_reason, error_message, manifest_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	rec := &Record{}
	var protocolID, category, route, cluster, reason, errMsg, snapshot sql.NullString
	if err := row.Scan(
		&rec.UnitID, &protocolID, &rec.State, &rec.Cycle, &category, &route,
		&cluster, &reason, &errMsg, &snapshot, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.ProtocolID = protocolID.String
	rec.Category = category.String
	rec.Route = route.String
	rec.FinalCluster = cluster.String
	rec.FinalReason = reason.String
	rec.ErrorMessage = errMsg.String
	rec.ManifestJSON = snapshot.String
	return rec, nil
}

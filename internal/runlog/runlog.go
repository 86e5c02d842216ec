// Package runlog persists per-run, per-tile outcomes in a SQLite ledger so a
// failed run can be inspected and re-driven tile by tile. The schema is
// managed with file-based migrations.
package runlog

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pacific-data/tilepress/internal/pipeline"
)

// Ledger is an open run ledger.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger at path and applies pending migrations
// from migrationsDir.
func Open(path, migrationsDir string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	l := &Ledger{db: db}
	if err := l.migrateUp(migrationsDir); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error { return l.db.Close() }

// DB exposes the handle for read-only reporting queries.
func (l *Ledger) DB() *sql.DB { return l.db }

// StartRun records a new run and returns its id.
func (l *Ledger) StartRun(dataset, year string) (string, error) {
	id := uuid.New().String()
	err := retryOnBusy(func() error {
		_, err := l.db.Exec(
			`INSERT INTO runs (run_id, dataset, year, started_at) VALUES (?, ?, ?, ?)`,
			id, dataset, year, time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run's end time.
func (l *Ledger) FinishRun(runID string) error {
	return retryOnBusy(func() error {
		_, err := l.db.Exec(
			`UPDATE runs SET finished_at = ? WHERE run_id = ?`,
			time.Now().UTC(), runID,
		)
		return err
	})
}

// RecordTile upserts one tile outcome for the run.
func (l *Ledger) RecordTile(runID string, r pipeline.TileResult) error {
	var errText string
	if r.Err != nil {
		errText = r.Err.Error()
	}
	return retryOnBusy(func() error {
		_, err := l.db.Exec(`
			INSERT INTO tile_results (run_id, tile, status, paths, error, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id, tile) DO UPDATE SET
				status = excluded.status,
				paths = excluded.paths,
				error = excluded.error,
				recorded_at = excluded.recorded_at`,
			runID, r.Tile.String(), string(r.Status), strings.Join(r.Paths, ";"), errText, time.Now().UTC(),
		)
		return err
	})
}

// RecordAll records every result, stopping at the first storage error.
func (l *Ledger) RecordAll(runID string, results []pipeline.TileResult) error {
	for _, r := range results {
		if err := l.RecordTile(runID, r); err != nil {
			return fmt.Errorf("record tile %s: %w", r.Tile, err)
		}
	}
	return nil
}

// TileRecord is one persisted tile outcome.
type TileRecord struct {
	Tile   string
	Status pipeline.Status
	Paths  []string
	Error  string
}

// TileResults returns the run's tile outcomes ordered by tile id.
func (l *Ledger) TileResults(runID string) ([]TileRecord, error) {
	rows, err := l.db.Query(
		`SELECT tile, status, paths, error FROM tile_results WHERE run_id = ? ORDER BY tile`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tile results: %w", err)
	}
	defer rows.Close()

	var out []TileRecord
	for rows.Next() {
		var rec TileRecord
		var status, paths string
		if err := rows.Scan(&rec.Tile, &status, &paths, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan tile result: %w", err)
		}
		rec.Status = pipeline.Status(status)
		if paths != "" {
			rec.Paths = strings.Split(paths, ";")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FailedTiles returns the tile ids that ended in failure, for re-driving.
func (l *Ledger) FailedTiles(runID string) ([]string, error) {
	rows, err := l.db.Query(
		`SELECT tile FROM tile_results WHERE run_id = ? AND status = ? ORDER BY tile`,
		runID, string(pipeline.StatusFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("query failed tiles: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tile string
		if err := rows.Scan(&tile); err != nil {
			return nil, err
		}
		out = append(out, tile)
	}
	return out, rows.Err()
}

// Summary counts tile outcomes per terminal state.
type Summary struct {
	Counts map[pipeline.Status]int
	Total  int
}

// Summarize aggregates a run's outcomes.
func (l *Ledger) Summarize(runID string) (Summary, error) {
	rows, err := l.db.Query(
		`SELECT status, COUNT(*) FROM tile_results WHERE run_id = ? GROUP BY status`,
		runID,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize run: %w", err)
	}
	defer rows.Close()

	s := Summary{Counts: make(map[pipeline.Status]int)}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Summary{}, err
		}
		s.Counts[pipeline.Status(status)] = n
		s.Total += n
	}
	return s, rows.Err()
}

package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"energy_prices/internal/model"
	"energy_prices/internal/store"
)

// Manifest records one row per cached year: when it was fetched, whether
// it is final, and which windows failed.
type Manifest struct {
	db *sqlx.DB
}

type manifestRow struct {
	Kind          string `db:"kind"`
	Country       string `db:"country"`
	Year          int    `db:"year"`
	FetchedAt     int64  `db:"fetched_at"`
	Complete      bool   `db:"complete"`
	Rows          int    `db:"row_count"`
	FailedWindows string `db:"failed_windows"`
	RunID         string `db:"run_id"`
}

// OpenManifest opens (or creates) the SQLite database and runs migrations.
func OpenManifest(path string) (*Manifest, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating manifest dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	m := &Manifest{db: db}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("Cache manifest opened: %s", path)
	return m, nil
}

func (m *Manifest) migrate() error {
	_, err := m.db.Exec(`CREATE TABLE IF NOT EXISTS cache_entries (
		kind           TEXT    NOT NULL,
		country        TEXT    NOT NULL,
		year           INTEGER NOT NULL,
		fetched_at     INTEGER NOT NULL,
		complete       INTEGER NOT NULL DEFAULT 0,
		row_count      INTEGER NOT NULL DEFAULT 0,
		failed_windows TEXT    NOT NULL DEFAULT '[]',
		run_id         TEXT    NOT NULL DEFAULT '',
		PRIMARY KEY (kind, country, year)
	)`)
	return err
}

func (m *Manifest) Close() error {
	return m.db.Close()
}

// Get returns the entry for key; ok is false when none is recorded.
func (m *Manifest) Get(ctx context.Context, key store.Key) (model.CacheEntry, bool, error) {
	var row manifestRow
	err := m.db.GetContext(ctx, &row,
		`SELECT * FROM cache_entries WHERE kind = ? AND country = ? AND year = ?`,
		string(key.Kind), key.Country, key.Year)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CacheEntry{}, false, nil
	}
	if err != nil {
		return model.CacheEntry{}, false, fmt.Errorf("manifest get %s: %w", key, err)
	}

	entry, err := row.entry()
	if err != nil {
		return model.CacheEntry{}, false, fmt.Errorf("manifest get %s: %w", key, err)
	}
	return entry, true, nil
}

// Put inserts or replaces the entry for its year.
func (m *Manifest) Put(ctx context.Context, e model.CacheEntry) error {
	failed := e.FailedWindows
	if failed == nil {
		failed = []model.FetchWindow{}
	}
	fw, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("encoding failed windows: %w", err)
	}

	row := manifestRow{
		Kind:          string(e.Kind),
		Country:       e.Country,
		Year:          e.Year,
		FetchedAt:     e.FetchedAt.Unix(),
		Complete:      e.Complete,
		Rows:          e.Rows,
		FailedWindows: string(fw),
		RunID:         e.RunID,
	}

	_, err = m.db.NamedExecContext(ctx, `INSERT INTO cache_entries
		(kind, country, year, fetched_at, complete, row_count, failed_windows, run_id)
		VALUES (:kind, :country, :year, :fetched_at, :complete, :row_count, :failed_windows, :run_id)
		ON CONFLICT (kind, country, year) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			complete = excluded.complete,
			row_count = excluded.row_count,
			failed_windows = excluded.failed_windows,
			run_id = excluded.run_id`, row)
	if err != nil {
		return fmt.Errorf("manifest put %d: %w", e.Year, err)
	}
	return nil
}

func (m *Manifest) Delete(ctx context.Context, key store.Key) error {
	_, err := m.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE kind = ? AND country = ? AND year = ?`,
		string(key.Kind), key.Country, key.Year)
	if err != nil {
		return fmt.Errorf("manifest delete %s: %w", key, err)
	}
	return nil
}

// List returns all entries ordered by kind and year.
func (m *Manifest) List(ctx context.Context) ([]model.CacheEntry, error) {
	var rows []manifestRow
	if err := m.db.SelectContext(ctx, &rows,
		`SELECT * FROM cache_entries ORDER BY kind, country, year`); err != nil {
		return nil, fmt.Errorf("manifest list: %w", err)
	}

	entries := make([]model.CacheEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r manifestRow) entry() (model.CacheEntry, error) {
	var failed []model.FetchWindow
	if r.FailedWindows != "" {
		if err := json.Unmarshal([]byte(r.FailedWindows), &failed); err != nil {
			return model.CacheEntry{}, fmt.Errorf("decoding failed windows: %w", err)
		}
	}
	return model.CacheEntry{
		Kind:          model.Kind(r.Kind),
		Country:       r.Country,
		Year:          r.Year,
		FetchedAt:     time.Unix(r.FetchedAt, 0).UTC(),
		Complete:      r.Complete,
		Rows:          r.Rows,
		FailedWindows: failed,
		RunID:         r.RunID,
	}, nil
}

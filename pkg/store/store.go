// Package store is the durable cache store: three sqlite-backed
// collections (model states, cached responses, asset bodies) behind a
// lazily opened process-wide handle.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/klinelab/inferd/pkg/models"
)

// SchemaVersion gates the one-time structural setup. Opening a store
// persisted with a lower version runs the setup before any other
// operation is accepted.
const SchemaVersion = 2

const createMetaTable = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

const createCollections = `
CREATE TABLE IF NOT EXISTS models (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	state BLOB NOT NULL,
	last_used_at DATETIME NOT NULL,
	size_bytes INTEGER NOT NULL,
	schema_version TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_models_name ON models(name);
CREATE INDEX IF NOT EXISTS idx_models_last_used ON models(last_used_at);
CREATE INDEX IF NOT EXISTS idx_models_version ON models(schema_version);

CREATE TABLE IF NOT EXISTS responses (
	id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	response TEXT NOT NULL,
	backend_id TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	fingerprint TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responses_question ON responses(question);
CREATE INDEX IF NOT EXISTS idx_responses_created ON responses(created_at);
CREATE INDEX IF NOT EXISTS idx_responses_backend ON responses(backend_id);
CREATE INDEX IF NOT EXISTS idx_responses_fingerprint ON responses(fingerprint);

CREATE TABLE IF NOT EXISTS assets (
	url TEXT PRIMARY KEY,
	body BLOB NOT NULL,
	content_type TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	fetched_at DATETIME NOT NULL
);
`

// ErrNotOpen is returned when an operation runs before Open succeeded.
var ErrNotOpen = errors.New("store: not open")

// Store owns all durable records. Construct with New, then Open before
// use; Open is idempotent and concurrent callers share one in-flight
// initialization.
type Store struct {
	path string

	sf singleflight.Group

	mu sync.Mutex
	db *sql.DB
}

// New creates a Store without touching the filesystem.
func New(path string) *Store {
	return &Store{path: path}
}

// Open opens the database and runs schema setup if the persisted schema
// version is older than SchemaVersion. Safe to call concurrently; all
// callers observe the same single initialization. Failure here is fatal
// for the session and is returned to every waiting caller.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	opened := s.db != nil
	s.mu.Unlock()
	if opened {
		return nil
	}

	_, err, _ := s.sf.Do("open", func() (any, error) {
		db, err := sql.Open("sqlite", s.path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		s.mu.Lock()
		s.db = db
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createMetaTable); err != nil {
		return err
	}

	var stored int
	err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if stored >= SchemaVersion {
		return nil
	}

	if _, err := db.ExecContext(ctx, createCollections); err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)`, SchemaVersion)
	return err
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNotOpen
	}
	return s.db, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// PutModel writes or overwrites a model record.
func (s *Store) PutModel(ctx context.Context, rec models.ModelRecord) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO models (id, name, state, last_used_at, size_bytes, schema_version)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.State, rec.LastUsedAt.UTC(), rec.SizeBytes, rec.SchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("put model: %w", err)
	}
	return nil
}

// GetModel returns the model record for id. A read failure degrades to
// a cache miss.
func (s *Store) GetModel(ctx context.Context, id string) (models.ModelRecord, bool) {
	db, err := s.handle()
	if err != nil {
		return models.ModelRecord{}, false
	}
	var rec models.ModelRecord
	err = db.QueryRowContext(ctx,
		`SELECT id, name, state, last_used_at, size_bytes, schema_version FROM models WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Name, &rec.State, &rec.LastUsedAt, &rec.SizeBytes, &rec.SchemaVersion)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("store: get model %s: %v", id, err)
		}
		return models.ModelRecord{}, false
	}
	return rec, true
}

// TouchModel updates a model record's last-used timestamp.
func (s *Store) TouchModel(ctx context.Context, id string, at time.Time) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `UPDATE models SET last_used_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch model: %w", err)
	}
	return nil
}

// DeleteModel removes a model record.
func (s *Store) DeleteModel(ctx context.Context, id string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	return nil
}

// PutResponse writes or overwrites a response record.
func (s *Store) PutResponse(ctx context.Context, rec models.ResponseRecord) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO responses (id, question, response, backend_id, created_at, fingerprint)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Question, rec.Response, rec.BackendID, rec.CreatedAt.UTC(), rec.Fingerprint,
	)
	if err != nil {
		return fmt.Errorf("put response: %w", err)
	}
	return nil
}

// GetResponse returns the response record for id. A read failure
// degrades to a cache miss.
func (s *Store) GetResponse(ctx context.Context, id string) (models.ResponseRecord, bool) {
	db, err := s.handle()
	if err != nil {
		return models.ResponseRecord{}, false
	}
	var rec models.ResponseRecord
	err = db.QueryRowContext(ctx,
		`SELECT id, question, response, backend_id, created_at, fingerprint FROM responses WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Question, &rec.Response, &rec.BackendID, &rec.CreatedAt, &rec.Fingerprint)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("store: get response %s: %v", id, err)
		}
		return models.ResponseRecord{}, false
	}
	return rec, true
}

// DeleteResponse removes a response record.
func (s *Store) DeleteResponse(ctx context.Context, id string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM responses WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete response: %w", err)
	}
	return nil
}

// ScanResponses streams response records for one backend, newest first,
// calling fn for each until it returns false. The scan is one-shot; a
// fresh call is needed for another pass.
func (s *Store) ScanResponses(ctx context.Context, backendID string, fn func(models.ResponseRecord) bool) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, question, response, backend_id, created_at, fingerprint
		 FROM responses WHERE backend_id = ? ORDER BY created_at DESC`, backendID)
	if err != nil {
		return fmt.Errorf("scan responses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.ResponseRecord
		if err := rows.Scan(&rec.ID, &rec.Question, &rec.Response, &rec.BackendID, &rec.CreatedAt, &rec.Fingerprint); err != nil {
			return fmt.Errorf("scan response row: %w", err)
		}
		if !fn(rec) {
			return nil
		}
	}
	return rows.Err()
}

// ScanAllResponses streams every response record.
func (s *Store) ScanAllResponses(ctx context.Context, fn func(models.ResponseRecord) bool) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, question, response, backend_id, created_at, fingerprint
		 FROM responses ORDER BY created_at DESC`)
	if err != nil {
		return fmt.Errorf("scan responses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.ResponseRecord
		if err := rows.Scan(&rec.ID, &rec.Question, &rec.Response, &rec.BackendID, &rec.CreatedAt, &rec.Fingerprint); err != nil {
			return fmt.Errorf("scan response row: %w", err)
		}
		if !fn(rec) {
			return nil
		}
	}
	return rows.Err()
}

// ScanModels streams every model record.
func (s *Store) ScanModels(ctx context.Context, fn func(models.ModelRecord) bool) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, state, last_used_at, size_bytes, schema_version FROM models`)
	if err != nil {
		return fmt.Errorf("scan models: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.ModelRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.State, &rec.LastUsedAt, &rec.SizeBytes, &rec.SchemaVersion); err != nil {
			return fmt.Errorf("scan model row: %w", err)
		}
		if !fn(rec) {
			return nil
		}
	}
	return rows.Err()
}

// DeleteResponsesBefore removes response records created before cutoff
// and returns how many were removed. Model records are never swept here;
// they are evicted only by explicit Clear.
func (s *Store) DeleteResponsesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM responses WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old responses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old responses: %w", err)
	}
	return n, nil
}

// CountModels returns the number of model records.
func (s *Store) CountModels(ctx context.Context) (int64, error) {
	return s.count(ctx, "models")
}

// CountResponses returns the number of response records.
func (s *Store) CountResponses(ctx context.Context) (int64, error) {
	return s.count(ctx, "responses")
}

func (s *Store) count(ctx context.Context, table string) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Clear removes all model and response records. Cached asset bodies are
// cleared separately via ClearAssets.
func (s *Store) Clear(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM models`); err != nil {
		return fmt.Errorf("clear models: %w", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM responses`); err != nil {
		return fmt.Errorf("clear responses: %w", err)
	}
	return nil
}

// Stats computes cache statistics by full scan. The size is an
// estimate: stored size for model blobs, two bytes per character for
// response text. Callers must tolerate read skew against concurrent
// writes; the scan is not a consistent snapshot.
func (s *Store) Stats(ctx context.Context) (models.CacheStats, error) {
	var stats models.CacheStats
	var err error

	if stats.ModelCount, err = s.CountModels(ctx); err != nil {
		return stats, err
	}
	if stats.ResponseCount, err = s.CountResponses(ctx); err != nil {
		return stats, err
	}

	first := true
	observe := func(size int64, at time.Time) {
		stats.TotalSizeBytes += size
		if first || at.Before(stats.OldestEntry) {
			stats.OldestEntry = at
		}
		if first || at.After(stats.NewestEntry) {
			stats.NewestEntry = at
		}
		first = false
	}

	err = s.ScanModels(ctx, func(rec models.ModelRecord) bool {
		observe(rec.SizeBytes, rec.LastUsedAt)
		return true
	})
	if err != nil {
		return stats, err
	}
	err = s.ScanAllResponses(ctx, func(rec models.ResponseRecord) bool {
		observe(int64(len(rec.Response))*2, rec.CreatedAt)
		return true
	})
	return stats, err
}

// Snapshot exports both collections plus computed statistics.
func (s *Store) Snapshot(ctx context.Context) (models.Snapshot, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}

	snap := models.Snapshot{
		Version:   SchemaVersion,
		Timestamp: time.Now().UTC(),
		Stats:     stats,
	}
	err = s.ScanModels(ctx, func(rec models.ModelRecord) bool {
		snap.Models = append(snap.Models, rec)
		return true
	})
	if err != nil {
		return models.Snapshot{}, err
	}
	err = s.ScanAllResponses(ctx, func(rec models.ResponseRecord) bool {
		snap.Responses = append(snap.Responses, rec)
		return true
	})
	if err != nil {
		return models.Snapshot{}, err
	}
	return snap, nil
}

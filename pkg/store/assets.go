package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// Asset is one cached model-asset body keyed by URL.
type Asset struct {
	URL         string
	Body        []byte
	ContentType string
	SizeBytes   int64
	FetchedAt   time.Time
}

// PutAsset writes or overwrites a cached asset body.
func (s *Store) PutAsset(ctx context.Context, url string, body []byte, contentType string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO assets (url, body, content_type, size_bytes, fetched_at)
		 VALUES (?, ?, ?, ?, ?)`,
		url, body, contentType, int64(len(body)), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put asset: %w", err)
	}
	return nil
}

// GetAsset returns the cached asset for url. A read failure degrades to
// a cache miss.
func (s *Store) GetAsset(ctx context.Context, url string) (Asset, bool) {
	db, err := s.handle()
	if err != nil {
		return Asset{}, false
	}
	var a Asset
	err = db.QueryRowContext(ctx,
		`SELECT url, body, content_type, size_bytes, fetched_at FROM assets WHERE url = ?`, url,
	).Scan(&a.URL, &a.Body, &a.ContentType, &a.SizeBytes, &a.FetchedAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("store: get asset %s: %v", url, err)
		}
		return Asset{}, false
	}
	return a, true
}

// AssetSize returns the total cached asset bytes.
func (s *Store) AssetSize(ctx context.Context) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	var total int64
	err = db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM assets`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("asset size: %w", err)
	}
	return total, nil
}

// ClearAssets removes all cached asset bodies.
func (s *Store) ClearAssets(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM assets`); err != nil {
		return fmt.Errorf("clear assets: %w", err)
	}
	return nil
}

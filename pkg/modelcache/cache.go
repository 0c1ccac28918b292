// Package modelcache caches serialized backend state per backend
// identity, with last-used tracking.
package modelcache

import (
	"context"
	"log"
	"time"

	"github.com/klinelab/inferd/pkg/models"
	"github.com/klinelab/inferd/pkg/store"
)

// Cache is a write-through model state cache over the durable store.
type Cache struct {
	store *store.Store
}

// New creates a Cache.
func New(st *store.Store) *Cache {
	return &Cache{store: st}
}

// Get returns the cached state for a backend and stamps its last-used
// time. The touch is best-effort.
func (c *Cache) Get(ctx context.Context, backendID string) ([]byte, bool) {
	rec, ok := c.store.GetModel(ctx, backendID)
	if !ok {
		return nil, false
	}
	if err := c.store.TouchModel(ctx, backendID, time.Now().UTC()); err != nil {
		log.Printf("modelcache: touch %s: %v", backendID, err)
	}
	return rec.State, true
}

// Put writes or overwrites a backend's state, stamping the current time.
func (c *Cache) Put(ctx context.Context, backendID string, state []byte, schemaVersion string) error {
	rec := models.ModelRecord{
		ID:            backendID,
		Name:          backendID,
		State:         state,
		LastUsedAt:    time.Now().UTC(),
		SizeBytes:     int64(len(state)),
		SchemaVersion: schemaVersion,
	}
	return c.store.PutModel(ctx, rec)
}

// EvictOlderThan sweeps response records older than maxAge and returns
// how many were removed. Model blobs are expensive to refetch and change
// rarely, so they are never swept here; response text is cheap to
// regenerate and goes stale, so it auto-expires.
func (c *Cache) EvictOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	return c.store.DeleteResponsesBefore(ctx, cutoff)
}

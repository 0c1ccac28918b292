// Package respcache caches prompt/completion pairs per backend identity,
// with exact and fuzzy lookup.
package respcache

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/klinelab/inferd/pkg/fingerprint"
	"github.com/klinelab/inferd/pkg/models"
	"github.com/klinelab/inferd/pkg/similarity"
	"github.com/klinelab/inferd/pkg/store"
)

// Cache is a write-through response cache over the durable store.
type Cache struct {
	store     *store.Store
	threshold float64

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Cache. threshold is the minimum similarity score for a
// fuzzy hit; zero means similarity.DefaultThreshold.
func New(st *store.Store, threshold float64) *Cache {
	if threshold == 0 {
		threshold = similarity.DefaultThreshold
	}
	return &Cache{store: st, threshold: threshold}
}

// GetExact returns the cached answer for exactly this (question,
// backend) pair. Records are immutable; a hit does not mutate anything.
func (c *Cache) GetExact(ctx context.Context, question, backendID string) (string, bool) {
	key := fingerprint.ResponseKey(backendID, question)
	rec, ok := c.store.GetResponse(ctx, key)
	if !ok {
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	return rec.Response, true
}

// GetFuzzy scans the backend's records and returns up to limit whose
// stored question scores at or above the threshold, most recent first.
// A partial scan failure returns whatever was collected so far.
func (c *Cache) GetFuzzy(ctx context.Context, question, backendID string, limit int) []models.ResponseRecord {
	if limit <= 0 {
		limit = 5
	}
	norm := fingerprint.Normalize(question)

	var out []models.ResponseRecord
	err := c.store.ScanResponses(ctx, backendID, func(rec models.ResponseRecord) bool {
		if similarity.Score(norm, rec.Question) >= c.threshold {
			out = append(out, rec)
		}
		return len(out) < limit
	})
	if err != nil {
		log.Printf("respcache: fuzzy scan: %v", err)
	}
	return out
}

// Put writes through a freshly generated answer. Best-effort: a failed
// cache write is logged and swallowed so it can never fail generation.
func (c *Cache) Put(ctx context.Context, question, response, backendID string) {
	norm := fingerprint.Normalize(question)
	sum := fingerprint.Sum(question)
	rec := models.ResponseRecord{
		ID:          backendID + "_" + sum,
		Question:    norm,
		Response:    response,
		BackendID:   backendID,
		CreatedAt:   time.Now().UTC(),
		Fingerprint: sum,
	}
	if err := c.store.PutResponse(ctx, rec); err != nil {
		log.Printf("respcache: put: %v", err)
	}
}

// Counters returns the hit and miss counts since startup.
func (c *Cache) Counters() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klinelab/inferd/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "store_test.db"))
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "store_test.db"))
	ctx := context.Background()
	if err := s.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Open(ctx); err != nil {
		t.Fatalf("second open: %v", err)
	}
	_ = s.Close()
}

func TestOpenConcurrent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "store_test.db"))
	t.Cleanup(func() { _ = s.Close() })

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Open(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestNotOpen(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "store_test.db"))
	if err := s.PutModel(context.Background(), models.ModelRecord{ID: "m"}); err != ErrNotOpen {
		t.Errorf("expected ErrNotOpen, got %v", err)
	}
	if _, ok := s.GetModel(context.Background(), "m"); ok {
		t.Error("expected miss before open")
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store_test.db")
	ctx := context.Background()

	s := New(path)
	if err := s.Open(ctx); err != nil {
		t.Fatal(err)
	}
	rec := models.ModelRecord{
		ID: "Xenova/gpt2", Name: "GPT-2", State: []byte(`{"loaded":true}`),
		LastUsedAt: time.Now().UTC(), SizeBytes: 15, SchemaVersion: "1.0",
	}
	if err := s.PutModel(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s = New(path)
	if err := s.Open(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	got, ok := s.GetModel(ctx, "Xenova/gpt2")
	if !ok {
		t.Fatal("expected model to survive reopen")
	}
	if string(got.State) != `{"loaded":true}` {
		t.Errorf("unexpected state: %s", got.State)
	}
}

func TestModelRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := models.ModelRecord{
		ID:            "Xenova/distilgpt2",
		Name:          "DistilGPT-2",
		State:         []byte("state-bytes"),
		LastUsedAt:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		SizeBytes:     11,
		SchemaVersion: "1.0",
	}
	if err := s.PutModel(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, ok := s.GetModel(ctx, rec.ID)
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Name != rec.Name || string(got.State) != string(rec.State) || got.SizeBytes != rec.SizeBytes {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// overwrite, not version
	rec.State = []byte("new-state")
	if err := s.PutModel(ctx, rec); err != nil {
		t.Fatal(err)
	}
	n, err := s.CountModels(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 model after overwrite, got %d", n)
	}

	if err := s.DeleteModel(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.GetModel(ctx, rec.ID); ok {
		t.Error("expected miss after delete")
	}
}

func TestTouchModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := models.ModelRecord{ID: "m1", Name: "m1", State: []byte("x"), LastUsedAt: time.Now().UTC().Add(-time.Hour), SizeBytes: 1, SchemaVersion: "1.0"}
	if err := s.PutModel(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if err := s.TouchModel(ctx, "m1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetModel(ctx, "m1")
	if !got.LastUsedAt.After(rec.LastUsedAt) {
		t.Errorf("last used not advanced: %v", got.LastUsedAt)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := models.ResponseRecord{
		ID:          "gpt2_abcdef0123456789",
		Question:    "什么是k线图？",
		Response:    "K线图是显示价格变化的图表。",
		BackendID:   "gpt2",
		CreatedAt:   time.Now().UTC(),
		Fingerprint: "abcdef0123456789",
	}
	if err := s.PutResponse(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, ok := s.GetResponse(ctx, rec.ID)
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Question != rec.Question || got.Response != rec.Response || got.BackendID != rec.BackendID {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, ok := s.GetResponse(ctx, "other_abcdef0123456789"); ok {
		t.Error("expected miss for unknown id")
	}

	if err := s.DeleteResponse(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.GetResponse(ctx, rec.ID); ok {
		t.Error("expected miss after delete")
	}
}

func putResponseAt(t *testing.T, s *Store, id, backendID string, at time.Time) {
	t.Helper()
	err := s.PutResponse(context.Background(), models.ResponseRecord{
		ID: id, Question: "q " + id, Response: "r " + id,
		BackendID: backendID, CreatedAt: at, Fingerprint: id,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestScanResponsesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)

	putResponseAt(t, s, "r1", "gpt2", base)
	putResponseAt(t, s, "r2", "gpt2", base.Add(10*time.Minute))
	putResponseAt(t, s, "r3", "gpt2", base.Add(20*time.Minute))
	putResponseAt(t, s, "other", "tinyllama", base.Add(30*time.Minute))

	var ids []string
	err := s.ScanResponses(context.Background(), "gpt2", func(rec models.ResponseRecord) bool {
		ids = append(ids, rec.ID)
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"r3", "r2", "r1"}
	if len(ids) != len(want) {
		t.Fatalf("got %d records, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestScanResponsesStops(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		putResponseAt(t, s, fmt.Sprintf("r%d", i), "gpt2", base.Add(time.Duration(i)*time.Minute))
	}

	seen := 0
	err := s.ScanResponses(context.Background(), "gpt2", func(models.ResponseRecord) bool {
		seen++
		return seen < 2
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != 2 {
		t.Errorf("scan visited %d records, want 2", seen)
	}
}

func TestDeleteResponsesBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	putResponseAt(t, s, "stale", "gpt2", now.Add(-8*24*time.Hour))
	putResponseAt(t, s, "fresh", "gpt2", now.Add(-time.Hour))

	removed, err := s.DeleteResponsesBefore(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := s.GetResponse(ctx, "stale"); ok {
		t.Error("stale record should be gone")
	}
	if _, ok := s.GetResponse(ctx, "fresh"); !ok {
		t.Error("fresh record should survive")
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutModel(ctx, models.ModelRecord{ID: "m", Name: "m", State: []byte("x"), LastUsedAt: time.Now().UTC(), SizeBytes: 1, SchemaVersion: "1.0"}); err != nil {
		t.Fatal(err)
	}
	putResponseAt(t, s, "r", "gpt2", time.Now().UTC())

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.CountModels(ctx); n != 0 {
		t.Errorf("models after clear: %d", n)
	}
	if n, _ := s.CountResponses(ctx); n != 0 {
		t.Errorf("responses after clear: %d", n)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutModel(ctx, models.ModelRecord{ID: "m", Name: "m", State: []byte("12345"), LastUsedAt: time.Now().UTC(), SizeBytes: 5, SchemaVersion: "1.0"}); err != nil {
		t.Fatal(err)
	}
	err := s.PutResponse(ctx, models.ResponseRecord{
		ID: "r", Question: "q", Response: "abc", BackendID: "gpt2",
		CreatedAt: time.Now().UTC(), Fingerprint: "r",
	})
	if err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ModelCount != 1 || stats.ResponseCount != 1 {
		t.Errorf("counts: %d models, %d responses", stats.ModelCount, stats.ResponseCount)
	}
	// 5 model bytes + 3 response chars at two bytes each
	if stats.TotalSizeBytes != 11 {
		t.Errorf("total size = %d, want 11", stats.TotalSizeBytes)
	}
	if stats.OldestEntry.IsZero() || stats.NewestEntry.Before(stats.OldestEntry) {
		t.Errorf("bad entry range: %v .. %v", stats.OldestEntry, stats.NewestEntry)
	}
}

func TestSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutModel(ctx, models.ModelRecord{ID: "m", Name: "m", State: []byte("x"), LastUsedAt: time.Now().UTC(), SizeBytes: 1, SchemaVersion: "1.0"}); err != nil {
		t.Fatal(err)
	}
	putResponseAt(t, s, "r1", "gpt2", time.Now().UTC())
	putResponseAt(t, s, "r2", "gpt2", time.Now().UTC())

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != SchemaVersion {
		t.Errorf("version = %d, want %d", snap.Version, SchemaVersion)
	}
	if snap.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if len(snap.Models) != 1 || len(snap.Responses) != 2 {
		t.Errorf("snapshot holds %d models, %d responses", len(snap.Models), len(snap.Responses))
	}
	if snap.Stats.ResponseCount != 2 {
		t.Errorf("snapshot stats response count = %d", snap.Stats.ResponseCount)
	}
}

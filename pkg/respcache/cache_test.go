package respcache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/klinelab/inferd/pkg/store"
)

func newTestCache(t *testing.T, threshold float64) *Cache {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "respcache_test.db"))
	if err := st.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, threshold)
}

func TestExactRoundTrip(t *testing.T) {
	c := newTestCache(t, 0)
	ctx := context.Background()

	c.Put(ctx, "什么是K线图？", "K线图是显示价格变化的图表。", "gpt2")

	got, ok := c.GetExact(ctx, "什么是K线图？", "gpt2")
	if !ok {
		t.Fatal("expected exact hit")
	}
	if got != "K线图是显示价格变化的图表。" {
		t.Errorf("unexpected response: %s", got)
	}

	// different backend identity is a different key
	if _, ok := c.GetExact(ctx, "什么是K线图？", "tinyllama"); ok {
		t.Error("expected miss for other backend")
	}
}

func TestExactNormalizes(t *testing.T) {
	c := newTestCache(t, 0)
	ctx := context.Background()

	c.Put(ctx, "  What Is A Candlestick?  ", "An OHLC chart element.", "gpt2")
	if _, ok := c.GetExact(ctx, "what is a candlestick?", "gpt2"); !ok {
		t.Error("casing and whitespace variants should share a key")
	}
}

func TestPutOverwrites(t *testing.T) {
	c := newTestCache(t, 0)
	ctx := context.Background()

	c.Put(ctx, "q", "first", "gpt2")
	c.Put(ctx, "q", "second", "gpt2")

	got, ok := c.GetExact(ctx, "q", "gpt2")
	if !ok {
		t.Fatal("expected hit")
	}
	if got != "second" {
		t.Errorf("expected overwrite, got %s", got)
	}
}

func TestFuzzy(t *testing.T) {
	c := newTestCache(t, 0)
	ctx := context.Background()

	c.Put(ctx, "什么是K线图？", "K线图是显示价格变化的图表。", "gpt2")
	c.Put(ctx, "今天天气怎么样", "不知道。", "gpt2")

	// near-identical question, no exact key match
	recs := c.GetFuzzy(ctx, "什么是K线图", "gpt2", 5)
	if len(recs) != 1 {
		t.Fatalf("expected 1 fuzzy hit, got %d", len(recs))
	}
	if recs[0].Response != "K线图是显示价格变化的图表。" {
		t.Errorf("unexpected response: %s", recs[0].Response)
	}

	if recs := c.GetFuzzy(ctx, "比特币价格预测模型", "gpt2", 5); len(recs) != 0 {
		t.Errorf("expected no fuzzy hits for unrelated question, got %d", len(recs))
	}
}

func TestFuzzyLimit(t *testing.T) {
	c := newTestCache(t, 0)
	ctx := context.Background()

	c.Put(ctx, "question one", "a1", "gpt2")
	c.Put(ctx, "question two", "a2", "gpt2")
	c.Put(ctx, "question six", "a3", "gpt2")

	recs := c.GetFuzzy(ctx, "question ten", "gpt2", 2)
	if len(recs) != 2 {
		t.Errorf("expected limit to cap results at 2, got %d", len(recs))
	}
}

func TestCounters(t *testing.T) {
	c := newTestCache(t, 0)
	ctx := context.Background()

	c.Put(ctx, "q", "a", "gpt2")
	c.GetExact(ctx, "q", "gpt2")
	c.GetExact(ctx, "unknown", "gpt2")
	c.GetExact(ctx, "also unknown", "gpt2")

	hits, misses := c.Counters()
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
	if misses != 2 {
		t.Errorf("misses = %d, want 2", misses)
	}
}

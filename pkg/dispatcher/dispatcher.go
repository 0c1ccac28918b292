// Package dispatcher answers questions cache-first, then walks a
// prioritized backend chain under per-backend timeout budgets.
package dispatcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/klinelab/inferd/pkg/backend"
	"github.com/klinelab/inferd/pkg/fingerprint"
	"github.com/klinelab/inferd/pkg/modelcache"
	"github.com/klinelab/inferd/pkg/models"
	"github.com/klinelab/inferd/pkg/respcache"
)

// apology is the terminal answer when every backend has been exhausted.
// The caller always gets response text, never a raw error.
const apology = "抱歉，当前服务暂时不可用。请稍后重试或检查网络连接。"

const stateSchemaVersion = "1.0"

// Config tunes the dispatcher.
type Config struct {
	// DefaultBackendID scopes the fuzzy lookup.
	DefaultBackendID string
	// FuzzyLimit caps fuzzy candidates per lookup.
	FuzzyLimit int
	// LoadTimeouts overrides the size-class load budgets (tests shrink
	// them); nil uses the declared budgets.
	LoadTimeouts map[backend.SizeClass]time.Duration
}

// Dispatcher routes questions through the response cache and the
// backend chain, writing results back through both caches.
type Dispatcher struct {
	backends  []backend.Backend
	responses *respcache.Cache
	states    *modelcache.Cache
	cfg       Config

	// collapses concurrent identical questions into one generation
	inflight singleflight.Group
}

// New creates a Dispatcher over an ordered backend chain, cheapest
// first.
func New(backends []backend.Backend, responses *respcache.Cache, states *modelcache.Cache, cfg Config) *Dispatcher {
	if cfg.FuzzyLimit <= 0 {
		cfg.FuzzyLimit = 5
	}
	if cfg.DefaultBackendID == "" {
		cfg.DefaultBackendID = "instant"
	}
	return &Dispatcher{backends: backends, responses: responses, states: states, cfg: cfg}
}

// Ask answers a question. Chunks stream through onChunk (which may be
// nil); the final text, its source and the backend that produced it come
// back in the Answer. Ask never returns an error: the worst case is the
// apology answer with source "error".
func (d *Dispatcher) Ask(ctx context.Context, question string, onChunk func(string)) models.Answer {
	start := time.Now()

	// 1. Exact hit from any backend identity wins immediately.
	for _, b := range d.backends {
		if text, ok := d.responses.GetExact(ctx, question, b.ID()); ok {
			streamText(text, onChunk)
			return models.Answer{Text: text, Source: models.SourceCache, BackendID: b.ID(), Elapsed: time.Since(start)}
		}
	}

	// 2. Fuzzy lookup against the default identity.
	if cands := d.responses.GetFuzzy(ctx, question, d.cfg.DefaultBackendID, d.cfg.FuzzyLimit); len(cands) > 0 {
		text := cands[0].Response
		streamText(text, onChunk)
		return models.Answer{Text: text, Source: models.SourceCache, BackendID: cands[0].BackendID, Elapsed: time.Since(start)}
	}

	// 3. Generate, collapsing concurrent identical questions.
	key := fingerprint.Sum(question)
	executed := false
	v, _, _ := d.inflight.Do(key, func() (any, error) {
		executed = true
		return d.generate(ctx, question, onChunk), nil
	})
	ans := v.(models.Answer)
	if !executed {
		// this caller shared another caller's generation; it still gets
		// the text through its own chunk stream
		streamText(ans.Text, onChunk)
	}
	ans.Elapsed = time.Since(start)
	return ans
}

// generate walks the backend chain. A load or generation failure logs
// and advances; exhaustion resolves to the apology answer.
func (d *Dispatcher) generate(ctx context.Context, question string, onChunk func(string)) models.Answer {
	for _, b := range d.backends {
		if _, ok := d.states.Get(ctx, b.ID()); !ok {
			state, err := d.loadWithBudget(ctx, b)
			if err != nil {
				log.Printf("dispatcher: load %s: %v", b.ID(), err)
				continue
			}
			if err := d.states.Put(ctx, b.ID(), state, stateSchemaVersion); err != nil {
				log.Printf("dispatcher: cache state %s: %v", b.ID(), err)
			}
		}

		text, err := b.Generate(ctx, question, onChunk)
		if err != nil {
			log.Printf("dispatcher: generate %s: %v", b.ID(), err)
			continue
		}

		d.responses.Put(ctx, question, text, b.ID())

		source := models.SourceModel
		if _, ok := b.(*backend.Canned); ok {
			source = models.SourceInstant
		}
		return models.Answer{Text: text, Source: source, BackendID: b.ID()}
	}

	streamText(apology, onChunk)
	return models.Answer{Text: apology, Source: models.SourceError}
}

// loadWithBudget races the backend load against its size-class budget.
// Expiry surfaces as an ordinary load failure.
func (d *Dispatcher) loadWithBudget(ctx context.Context, b backend.Backend) ([]byte, error) {
	budget := b.SizeClass().LoadTimeout()
	if d.cfg.LoadTimeouts != nil {
		if t, ok := d.cfg.LoadTimeouts[b.SizeClass()]; ok {
			budget = t
		}
	}
	loadCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type loadResult struct {
		state []byte
		err   error
	}
	done := make(chan loadResult, 1)
	go func() {
		state, err := b.Load(loadCtx)
		done <- loadResult{state, err}
	}()

	select {
	case res := <-done:
		return res.state, res.err
	case <-loadCtx.Done():
		return nil, fmt.Errorf("load %s: %w", b.ID(), loadCtx.Err())
	}
}

func streamText(text string, onChunk func(string)) {
	if onChunk == nil {
		return
	}
	for _, r := range text {
		onChunk(string(r))
	}
}

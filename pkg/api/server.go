// Package api exposes the inferd HTTP surface: ask, cache
// administration and snapshot export.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/klinelab/inferd/pkg/config"
	"github.com/klinelab/inferd/pkg/dispatcher"
	"github.com/klinelab/inferd/pkg/modelcache"
	"github.com/klinelab/inferd/pkg/models"
	"github.com/klinelab/inferd/pkg/respcache"
	"github.com/klinelab/inferd/pkg/store"
)

// AnswerSourceHeader carries the answer source ("cache", "instant",
// "model", "error") so clients can tell hits from live generations.
const AnswerSourceHeader = "X-Answer-Source"

// AssetControl is the slice of the worker channel the API needs. A nil
// control degrades the asset endpoints, not the rest of the server.
type AssetControl interface {
	ClearCache(ctx context.Context) error
	CacheSize(ctx context.Context) (int64, error)
	Preload(ctx context.Context, url string) error
}

// Server is the inferd API server.
type Server struct {
	cfg        *config.Config
	dispatcher *dispatcher.Dispatcher
	store      *store.Store
	responses  *respcache.Cache
	states     *modelcache.Cache
	assets     AssetControl
	router     chi.Router
}

// New wires a Server. assets may be nil when no gateway worker runs.
func New(cfg *config.Config, d *dispatcher.Dispatcher, st *store.Store, responses *respcache.Cache, states *modelcache.Cache, assets AssetControl) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		store:      st,
		responses:  responses,
		states:     states,
		assets:     assets,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/ask", s.handleAsk)
	r.Get("/v1/cache/stats", s.handleStats)
	r.Post("/v1/cache/clear", s.handleClear)
	r.Post("/v1/cache/evict", s.handleEvict)
	r.Get("/v1/cache/export", s.handleExport)
	r.Post("/v1/assets/preload", s.handlePreload)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown on ctx cancel.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("inferd api listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Text      string        `json:"text"`
	Source    models.Source `json:"source"`
	BackendID string        `json:"backend_id"`
	ElapsedMs int64         `json:"elapsed_ms"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if r.Header.Get("Accept") == "text/event-stream" {
		s.streamAsk(w, r, req.Question)
		return
	}

	ans := s.dispatcher.Ask(r.Context(), req.Question, nil)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(AnswerSourceHeader, string(ans.Source))
	json.NewEncoder(w).Encode(askResponse{
		Text:      ans.Text,
		Source:    ans.Source,
		BackendID: ans.BackendID,
		ElapsedMs: ans.Elapsed.Milliseconds(),
	})
}

// streamAsk delivers the answer as SSE chunks followed by a done event.
// Even the terminal apology flows through this same chunk stream.
func (s *Server) streamAsk(w http.ResponseWriter, r *http.Request, question string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ans := s.dispatcher.Ask(r.Context(), question, func(chunk string) {
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		flusher.Flush()
	})

	meta, _ := json.Marshal(askResponse{
		Text:      ans.Text,
		Source:    ans.Source,
		BackendID: ans.BackendID,
		ElapsedMs: ans.Elapsed.Milliseconds(),
	})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", meta)
	flusher.Flush()
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		log.Printf("api: stats: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	stats.Hits, stats.Misses = s.responses.Counters()

	out := struct {
		models.CacheStats
		AssetBytes int64 `json:"asset_bytes"`
	}{CacheStats: stats}

	if s.assets != nil {
		if size, err := s.assets.CacheSize(r.Context()); err == nil {
			out.AssetBytes = size
		} else {
			log.Printf("api: asset size: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		log.Printf("api: clear: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	if s.assets != nil {
		if err := s.assets.ClearCache(r.Context()); err != nil {
			log.Printf("api: clear assets: %v", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type evictRequest struct {
	MaxAge string `json:"max_age"`
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	var req evictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	maxAge := s.cfg.Cache.MaxAge
	if req.MaxAge != "" {
		parsed, err := time.ParseDuration(req.MaxAge)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid max_age")
			return
		}
		maxAge = parsed
	}

	removed, err := s.states.EvictOlderThan(r.Context(), maxAge)
	if err != nil {
		log.Printf("api: evict: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "evict failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"removed":%d}`, removed)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		log.Printf("api: export: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(snap)
}

type preloadRequest struct {
	URL string `json:"url"`
}

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	if s.assets == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no asset gateway")
		return
	}
	var req preloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.assets.Preload(r.Context(), req.URL); err != nil {
		log.Printf("api: preload: %v", err)
		writeJSONError(w, http.StatusBadGateway, "preload failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"code":%d}}`, message, code)
}

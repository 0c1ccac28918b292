package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/klinelab/inferd/pkg/store"
)

// CacheStatusHeader tags gateway responses so observers can tell cache
// hits from downloads.
const CacheStatusHeader = "X-Cache-Status"

// Gateway serves model-asset requests cache-first. Matched URLs are
// served from the asset store when present, otherwise downloaded with
// progress reporting and written back to the store on success.
// Unmatched URLs are passed through without caching.
type Gateway struct {
	store    *store.Store
	matcher  *Matcher
	progress *Broadcaster
	client   *http.Client
}

// NewGateway creates a Gateway. upstreamTimeout bounds a single asset
// download end to end.
func NewGateway(st *store.Store, m *Matcher, upstreamTimeout time.Duration) *Gateway {
	if upstreamTimeout <= 0 {
		upstreamTimeout = 10 * time.Minute
	}
	return &Gateway{
		store:    st,
		matcher:  m,
		progress: NewBroadcaster(),
		client:   &http.Client{Timeout: upstreamTimeout},
	}
}

// Progress exposes the download progress broadcaster.
func (g *Gateway) Progress() *Broadcaster {
	return g.progress
}

// Handler returns the gateway HTTP surface.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/fetch", g.handleFetch)
	return r
}

func (g *Gateway) handleFetch(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeJSONError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	if !g.matcher.Match(rawURL) {
		g.passthrough(w, r.Context(), rawURL)
		return
	}

	if asset, ok := g.store.GetAsset(r.Context(), rawURL); ok {
		w.Header().Set("Content-Type", asset.ContentType)
		w.Header().Set(CacheStatusHeader, "HIT")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(asset.Body); err != nil {
			log.Printf("assets: write cached %s: %v", rawURL, err)
		}
		return
	}

	body, contentType, err := g.download(r.Context(), rawURL, w)
	if err != nil {
		log.Printf("assets: download %s: %v", rawURL, err)
		writeJSONError(w, http.StatusServiceUnavailable, "asset download failed, check network connectivity")
		return
	}
	if body == nil {
		// non-200 upstream already relayed
		return
	}
	if err := g.store.PutAsset(context.WithoutCancel(r.Context()), rawURL, body, contentType); err != nil {
		log.Printf("assets: cache %s: %v", rawURL, err)
	}
}

// download streams the asset to w while counting bytes for progress,
// and returns the full body for caching. A nil body with nil error means
// the upstream answered non-200 and the response was relayed as-is.
// If w is nil the body is only collected (preload).
func (g *Gateway) download(ctx context.Context, rawURL string, w http.ResponseWriter) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")

	if resp.StatusCode != http.StatusOK {
		if w != nil {
			w.Header().Set("Content-Type", contentType)
			w.Header().Set(CacheStatusHeader, "MISS")
			w.WriteHeader(resp.StatusCode)
			if _, err := io.Copy(w, resp.Body); err != nil {
				log.Printf("assets: relay %s: %v", rawURL, err)
			}
		}
		return nil, "", nil
	}

	counted := newCountingReader(resp.Body, rawURL, resp.ContentLength, g.progress)

	var buf bytes.Buffer
	var dst io.Writer = &buf
	if w != nil {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set(CacheStatusHeader, "MISS")
		if resp.ContentLength > 0 {
			w.Header().Set("Content-Length", fmt.Sprint(resp.ContentLength))
		}
		w.WriteHeader(http.StatusOK)
		dst = io.MultiWriter(w, &buf)
	}

	if _, err := io.Copy(dst, counted); err != nil {
		return nil, "", fmt.Errorf("stream body: %w", err)
	}
	return buf.Bytes(), contentType, nil
}

// passthrough relays a non-asset URL without caching.
func (g *Gateway) passthrough(w http.ResponseWriter, ctx context.Context, rawURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid url")
		return
	}
	resp, err := g.client.Do(req)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "upstream fetch failed")
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Printf("assets: passthrough %s: %v", rawURL, err)
	}
}

// Preload fetches an asset into the cache without a waiting client.
// Already-cached assets are left alone.
func (g *Gateway) Preload(ctx context.Context, rawURL string) error {
	if !g.matcher.Match(rawURL) {
		return fmt.Errorf("preload: %q does not match asset patterns", rawURL)
	}
	if _, ok := g.store.GetAsset(ctx, rawURL); ok {
		return nil
	}
	body, contentType, err := g.download(ctx, rawURL, nil)
	if err != nil {
		return fmt.Errorf("preload %s: %w", rawURL, err)
	}
	if body == nil {
		return fmt.Errorf("preload %s: upstream refused", rawURL)
	}
	return g.store.PutAsset(ctx, rawURL, body, contentType)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"code":%d}}`, message, code)
}

// Package worker is the typed message channel between the main process
// and the asset-gateway worker process. The two sides share no memory;
// everything crosses as line-delimited JSON over the worker's stdio.
package worker

import "github.com/klinelab/inferd/pkg/assets"

// Kind discriminates the message vocabulary.
type Kind string

const (
	// KindClearCache asks the worker to drop all cached asset bytes.
	KindClearCache Kind = "clear_cache"
	// KindCacheSize asks for the total cached asset bytes.
	KindCacheSize Kind = "get_cache_size"
	// KindPreload asks the worker to fetch one asset URL into the cache.
	KindPreload Kind = "preload"
	// KindProgress is a fire-and-forget download progress notification.
	KindProgress Kind = "download_progress"
)

// Message is the wire envelope. Requests and their responses carry a
// matching ID; notifications carry none and expect no reply.
type Message struct {
	ID    int64                 `json:"id,omitempty"`
	Kind  Kind                  `json:"kind"`
	URL   string                `json:"url,omitempty"`
	OK    bool                  `json:"ok,omitempty"`
	Error string                `json:"error,omitempty"`
	Size  int64                 `json:"size,omitempty"`
	Event *assets.ProgressEvent `json:"event,omitempty"`
}

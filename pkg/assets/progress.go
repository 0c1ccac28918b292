package assets

import (
	"io"
	"sync"
)

// ProgressEvent reports download progress for one asset URL.
type ProgressEvent struct {
	URL      string `json:"url"`
	Progress int    `json:"progress"`
	Loaded   int64  `json:"loaded"`
	Total    int64  `json:"total"`
}

// Broadcaster fans progress events out to any number of observers.
// Publishing never blocks: observers that cannot keep up drop events,
// and having no observers at all costs nothing.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan ProgressEvent
	next int
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan ProgressEvent)}
}

// Subscribe registers an observer. The returned cancel func must be
// called to release it.
func (b *Broadcaster) Subscribe() (<-chan ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan ProgressEvent, 64)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every observer, dropping it where the buffer
// is full.
func (b *Broadcaster) Publish(ev ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// countingReader wraps a download body and publishes a progress event
// each time the integer percentage advances, so successive events for a
// URL are non-decreasing and end at 100 when total is known.
type countingReader struct {
	r      io.Reader
	url    string
	total  int64
	loaded int64
	last   int
	bcast  *Broadcaster
}

func newCountingReader(r io.Reader, url string, total int64, b *Broadcaster) *countingReader {
	return &countingReader{r: r, url: url, total: total, last: -1, bcast: b}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.loaded += int64(n)
		if c.total > 0 {
			pct := int(c.loaded * 100 / c.total)
			if pct > 100 {
				pct = 100
			}
			if pct > c.last {
				c.last = pct
				c.bcast.Publish(ProgressEvent{
					URL:      c.url,
					Progress: pct,
					Loaded:   c.loaded,
					Total:    c.total,
				})
			}
		}
	}
	return n, err
}

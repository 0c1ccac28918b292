package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/klinelab/inferd/pkg/assets"
)

// ErrClosed is returned for requests issued after the channel closed.
var ErrClosed = errors.New("worker: channel closed")

// Client is the main-process side of the channel. It issues
// request/response pairs, dispatches progress notifications to
// observers, and keeps the ephemeral URL → last-known-percent map.
type Client struct {
	wmu sync.Mutex
	w   io.Writer

	nextID atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan Message
	progress map[string]int
	onProg   []func(assets.ProgressEvent)
	closed   bool
}

// NewClient creates a Client over the worker's stdin/stdout pair and
// starts the read loop.
func NewClient(w io.Writer, r io.Reader) *Client {
	c := &Client{
		w:        w,
		pending:  make(map[int64]chan Message),
		progress: make(map[string]int),
	}
	go c.readLoop(r)
	return c
}

// Spawn starts bin with args as a child worker process wired over its
// stdio and returns a Client attached to it. The process boundary is the
// point: the gateway runs in its own process and only messages cross.
func Spawn(ctx context.Context, bin string, args ...string) (*Client, *exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("worker stdout: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start worker: %w", err)
	}
	return NewClient(stdin, stdout), cmd, nil
}

// OnProgress registers a progress observer. Observers run on the read
// loop and must not block.
func (c *Client) OnProgress(fn func(assets.ProgressEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProg = append(c.onProg, fn)
}

// DownloadProgress returns the last-known percentage for an asset URL,
// zero when nothing is known. Purely observational; reset with the
// process.
func (c *Client) DownloadProgress(url string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress[url]
}

// ClearCache asks the worker to drop all cached asset bytes.
func (c *Client) ClearCache(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, Message{Kind: KindClearCache})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("clear cache: %s", resp.Error)
	}
	return nil
}

// CacheSize reports the worker's total cached asset bytes.
func (c *Client) CacheSize(ctx context.Context) (int64, error) {
	resp, err := c.roundTrip(ctx, Message{Kind: KindCacheSize})
	if err != nil {
		return 0, err
	}
	if !resp.OK {
		return 0, fmt.Errorf("cache size: %s", resp.Error)
	}
	return resp.Size, nil
}

// Preload asks the worker to fetch one asset into the cache.
func (c *Client) Preload(ctx context.Context, url string) error {
	resp, err := c.roundTrip(ctx, Message{Kind: KindPreload, URL: url})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("preload: %s", resp.Error)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, req Message) (Message, error) {
	req.ID = c.nextID.Add(1)

	ch := make(chan Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, ErrClosed
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return Message{}, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	c.wmu.Lock()
	_, err = c.w.Write(data)
	c.wmu.Unlock()
	if err != nil {
		return Message{}, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Message{}, ErrClosed
		}
		return resp, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *Client) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Printf("worker client: bad message: %v", err)
			continue
		}

		if msg.Kind == KindProgress && msg.Event != nil {
			c.mu.Lock()
			c.progress[msg.Event.URL] = msg.Event.Progress
			observers := make([]func(assets.ProgressEvent), len(c.onProg))
			copy(observers, c.onProg)
			c.mu.Unlock()
			for _, fn := range observers {
				fn(*msg.Event)
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}

	// worker went away: fail everything still waiting
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

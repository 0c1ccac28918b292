package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/klinelab/inferd/pkg/assets"
	"github.com/klinelab/inferd/pkg/store"
)

// Server answers control messages on the worker side of the channel and
// pushes download progress notifications as they happen.
type Server struct {
	gateway *assets.Gateway
	store   *store.Store

	wmu sync.Mutex
	w   io.Writer
}

// NewServer creates a Server over the gateway and its store.
func NewServer(g *assets.Gateway, st *store.Store) *Server {
	return &Server{gateway: g, store: st}
}

// Run reads requests from r line by line and writes responses to w,
// interleaved with progress notifications. It blocks until r is closed
// or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	s.wmu.Lock()
	s.w = w
	s.wmu.Unlock()

	events, cancel := s.gateway.Progress().Subscribe()
	defer cancel()
	go func() {
		for ev := range events {
			ev := ev
			s.write(Message{Kind: KindProgress, Event: &ev})
		}
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Message
		if err := json.Unmarshal(line, &req); err != nil {
			log.Printf("worker: bad message: %v", err)
			continue
		}
		s.write(s.dispatch(ctx, &req))
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Message) Message {
	resp := Message{ID: req.ID, Kind: req.Kind}

	switch req.Kind {
	case KindClearCache:
		if err := s.store.ClearAssets(ctx); err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.OK = true

	case KindCacheSize:
		size, err := s.store.AssetSize(ctx)
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.OK = true
		resp.Size = size

	case KindPreload:
		if err := s.gateway.Preload(ctx, req.URL); err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.OK = true

	case KindProgress:
		// notifications are one-way; nothing to answer
		resp.Error = "progress is not a request"

	default:
		resp.Error = fmt.Sprintf("unknown message kind %q", req.Kind)
	}
	return resp
}

func (s *Server) write(msg Message) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("worker: marshal response: %v", err)
		return
	}
	data = append(data, '\n')
	if _, err := s.w.Write(data); err != nil {
		log.Printf("worker: write response: %v", err)
	}
}

// Package backend defines the inference backend capability interface
// and its adapters. Backends are opaque: they load model state and
// generate text, nothing else leaks out.
package backend

import (
	"context"
	"fmt"
	"time"
)

// SizeClass buckets a backend by its weight size and scales its load
// timeout budget.
type SizeClass string

const (
	SizeSmall     SizeClass = "small"
	SizeMedium    SizeClass = "medium"
	SizeLarge     SizeClass = "large"
	SizeVeryLarge SizeClass = "verylarge"
)

// ParseSizeClass validates a config string.
func ParseSizeClass(s string) (SizeClass, error) {
	switch SizeClass(s) {
	case SizeSmall, SizeMedium, SizeLarge, SizeVeryLarge:
		return SizeClass(s), nil
	case "":
		return SizeSmall, nil
	}
	return "", fmt.Errorf("unknown size class %q", s)
}

// LoadTimeout returns the load budget for the class. Live model loads
// run seconds to minutes, so the budget grows with declared size.
func (s SizeClass) LoadTimeout() time.Duration {
	switch s {
	case SizeMedium:
		return 60 * time.Second
	case SizeLarge:
		return 180 * time.Second
	case SizeVeryLarge:
		return 300 * time.Second
	default:
		return 30 * time.Second
	}
}

// Backend is a concrete inference engine. Implementations are selected
// at configuration time; there is no runtime capability sniffing.
type Backend interface {
	ID() string
	Name() string
	SizeClass() SizeClass
	// Load initializes the backend and returns its serialized state for
	// the model cache. It must respect ctx cancellation; the dispatcher
	// bounds it with the size-class budget.
	Load(ctx context.Context) ([]byte, error)
	// Generate produces an answer, streaming chunks through onChunk as
	// they become available and returning the full text. Once started it
	// runs to completion or natural error; there is no mid-generation
	// cancellation.
	Generate(ctx context.Context, question string, onChunk func(string)) (string, error)
}

// Preloader pulls model assets into the offline cache before a load.
// The worker client satisfies this.
type Preloader interface {
	Preload(ctx context.Context, url string) error
}

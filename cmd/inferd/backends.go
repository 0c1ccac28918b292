package main

import (
	"fmt"

	"github.com/klinelab/inferd/pkg/backend"
	"github.com/klinelab/inferd/pkg/config"
)

// buildBackends turns the configured chain into adapters, preserving
// priority order. Entries without a URL become the instant responder.
func buildBackends(cfg *config.Config, preloader backend.Preloader) ([]backend.Backend, error) {
	var chain []backend.Backend
	for _, bc := range cfg.Backends {
		size, err := backend.ParseSizeClass(bc.SizeClass)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", bc.ID, err)
		}
		if bc.URL == "" {
			chain = append(chain, backend.NewCanned(bc.ID, bc.Name))
			continue
		}
		chain = append(chain, backend.NewHTTP(bc.ID, bc.Name, bc.URL, bc.APIKey, size, bc.Weights, preloader))
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no backends configured")
	}
	return chain, nil
}

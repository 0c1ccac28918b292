package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/klinelab/inferd/pkg/api"
	"github.com/klinelab/inferd/pkg/assets"
	"github.com/klinelab/inferd/pkg/backend"
	"github.com/klinelab/inferd/pkg/config"
	"github.com/klinelab/inferd/pkg/dispatcher"
	"github.com/klinelab/inferd/pkg/modelcache"
	"github.com/klinelab/inferd/pkg/respcache"
	"github.com/klinelab/inferd/pkg/store"
	"github.com/klinelab/inferd/pkg/worker"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var noGateway bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inferd API server and gateway worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st := store.New(cfg.DBPath)
			if err := st.Open(ctx); err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			responses := respcache.New(st, cfg.Cache.FuzzyThreshold)
			states := modelcache.New(st)

			if cfg.Cache.Enabled && cfg.Cache.MaxAge > 0 {
				if removed, err := states.EvictOlderThan(ctx, cfg.Cache.MaxAge); err != nil {
					log.Printf("startup eviction: %v", err)
				} else if removed > 0 {
					log.Printf("evicted %d stale responses", removed)
				}
			}

			// The gateway runs in its own process; only messages cross.
			var preloader backend.Preloader
			var control api.AssetControl
			if !noGateway {
				bin, err := os.Executable()
				if err != nil {
					return fmt.Errorf("locate binary: %w", err)
				}
				client, proc, err := worker.Spawn(ctx, bin, "gateway", "--config", configPath)
				if err != nil {
					log.Printf("gateway worker unavailable, serving without asset cache: %v", err)
				} else {
					defer func() { _ = proc.Wait() }()
					client.OnProgress(func(ev assets.ProgressEvent) {
						log.Printf("download %s: %d%% (%d/%d bytes)", ev.URL, ev.Progress, ev.Loaded, ev.Total)
					})
					preloader = client
					control = client
				}
			}

			backends, err := buildBackends(cfg, preloader)
			if err != nil {
				return err
			}

			d := dispatcher.New(backends, responses, states, dispatcher.Config{
				DefaultBackendID: cfg.DefaultBackend,
				FuzzyLimit:       cfg.Cache.FuzzyLimit,
			})

			srv := api.New(cfg, d, st, responses, states, control)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "inferd.yaml", "path to config file")
	cmd.Flags().BoolVar(&noGateway, "no-gateway", false, "serve without the asset gateway worker")
	return cmd
}

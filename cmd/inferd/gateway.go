package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/klinelab/inferd/pkg/assets"
	"github.com/klinelab/inferd/pkg/config"
	"github.com/klinelab/inferd/pkg/store"
	"github.com/klinelab/inferd/pkg/worker"
)

// The gateway worker serves asset fetches over HTTP and answers control
// messages on stdio. It is normally spawned by `inferd serve` but can
// run standalone.
func newGatewayCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the model-asset gateway worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st := store.New(cfg.Assets.DBPath)
			if err := st.Open(ctx); err != nil {
				return fmt.Errorf("open asset store: %w", err)
			}
			defer func() { _ = st.Close() }()

			matcher, err := assets.NewMatcher(cfg.Assets.Patterns)
			if err != nil {
				return err
			}
			gw := assets.NewGateway(st, matcher, cfg.Assets.UpstreamTimeout)

			srv := &http.Server{
				Addr:    cfg.GatewayListen,
				Handler: gw.Handler(),
			}

			httpErr := make(chan error, 1)
			go func() {
				log.Printf("asset gateway listening on %s", cfg.GatewayListen)
				httpErr <- srv.ListenAndServe()
			}()

			// Control channel on stdio; when the parent closes our stdin
			// the worker shuts down.
			ctrl := worker.NewServer(gw, st)
			ctrlErr := make(chan error, 1)
			go func() {
				ctrlErr <- ctrl.Run(ctx, os.Stdin, os.Stdout)
			}()

			var runErr error
			select {
			case <-ctx.Done():
			case runErr = <-httpErr:
			case runErr = <-ctrlErr:
			}

			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
			return runErr
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "inferd.yaml", "path to config file")
	return cmd
}

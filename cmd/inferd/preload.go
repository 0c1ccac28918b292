package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/klinelab/inferd/pkg/assets"
	"github.com/klinelab/inferd/pkg/config"
	"github.com/klinelab/inferd/pkg/store"
)

func newPreloadCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "preload <url>",
		Short: "Fetch a model asset into the offline cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx := context.Background()
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

			events, cancel := gw.Progress().Subscribe()
			defer cancel()
			go func() {
				for ev := range events {
					fmt.Printf("\r%s: %d%%", ev.URL, ev.Progress)
				}
			}()

			if err := gw.Preload(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("\nCached.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "inferd.yaml", "path to config file")
	return cmd
}

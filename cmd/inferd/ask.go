package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/klinelab/inferd/pkg/config"
	"github.com/klinelab/inferd/pkg/dispatcher"
	"github.com/klinelab/inferd/pkg/modelcache"
	"github.com/klinelab/inferd/pkg/respcache"
	"github.com/klinelab/inferd/pkg/store"
)

func newAskCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question through the dispatch chain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx := context.Background()
			st := store.New(cfg.DBPath)
			if err := st.Open(ctx); err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			backends, err := buildBackends(cfg, nil)
			if err != nil {
				return err
			}

			d := dispatcher.New(backends,
				respcache.New(st, cfg.Cache.FuzzyThreshold),
				modelcache.New(st),
				dispatcher.Config{
					DefaultBackendID: cfg.DefaultBackend,
					FuzzyLimit:       cfg.Cache.FuzzyLimit,
				})

			question := strings.Join(args, " ")
			ans := d.Ask(ctx, question, func(chunk string) {
				fmt.Print(chunk)
			})
			fmt.Printf("\n\n[source=%s backend=%s elapsed=%s]\n", ans.Source, ans.BackendID, ans.Elapsed.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "inferd.yaml", "path to config file")
	return cmd
}

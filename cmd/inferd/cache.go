package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/klinelab/inferd/pkg/config"
	"github.com/klinelab/inferd/pkg/modelcache"
	"github.com/klinelab/inferd/pkg/store"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the model and response caches",
	}

	openStore := func(ctx context.Context) (*config.Config, *store.Store, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		st := store.New(cfg.DBPath)
		if err := st.Open(ctx); err != nil {
			return nil, nil, fmt.Errorf("open store: %w", err)
		}
		return cfg, st, nil
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			stats, err := st.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Models:    %d\n", stats.ModelCount)
			fmt.Printf("Responses: %d\n", stats.ResponseCount)
			fmt.Printf("Size:      %d bytes (estimated)\n", stats.TotalSizeBytes)
			if !stats.OldestEntry.IsZero() {
				fmt.Printf("Oldest:    %s\n", stats.OldestEntry.Format(time.RFC3339))
				fmt.Printf("Newest:    %s\n", stats.NewestEntry.Format(time.RFC3339))
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached models and responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.Clear(ctx); err != nil {
				return err
			}
			fmt.Println("All cached records cleared.")
			return nil
		},
	}

	var maxAge time.Duration
	evictCmd := &cobra.Command{
		Use:   "evict",
		Short: "Remove stale cached responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			age := maxAge
			if age == 0 {
				age = cfg.Cache.MaxAge
			}
			removed, err := modelcache.New(st).EvictOlderThan(ctx, age)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d stale responses.\n", removed)
			return nil
		},
	}
	evictCmd.Flags().DurationVar(&maxAge, "max-age", 0, "age cutoff (default from config)")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Dump both collections plus statistics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			snap, err := st.Snapshot(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "inferd.yaml", "path to config file")
	cmd.AddCommand(statsCmd, clearCmd, evictCmd, exportCmd)
	return cmd
}

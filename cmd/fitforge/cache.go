package main

import (
	"context"
	"fmt"

	cachepkg "github.com/fitforge-ai/fitforge/pkg/cache/sqlite"
	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the research response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := openCache(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := c.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Entries:        %d\n", stats.Entries)
			fmt.Printf("Hits:           %d\n", stats.Hits)
			fmt.Printf("Misses:         %d\n", stats.Misses)
			fmt.Printf("Total accesses: %d\n", stats.TotalAccesses)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := openCache(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := c.Clear(context.Background(), expiredOnly); err != nil {
				return err
			}
			if expiredOnly {
				fmt.Println("Expired cache entries cleared.")
			} else {
				fmt.Println("All cache entries cleared.")
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func openCache(configPath string) (*cachepkg.Store, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	c, err := cachepkg.New(cfg.DBPath, cfg.Cache.TTL)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache db: %w", err)
	}
	return c, func() { _ = c.Close() }, nil
}

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fitforge-ai/fitforge/pkg/analytics"
	cachepkg "github.com/fitforge-ai/fitforge/pkg/cache/sqlite"
	"github.com/fitforge-ai/fitforge/pkg/config"
	"github.com/fitforge-ai/fitforge/pkg/ratelimit"
	"github.com/fitforge-ai/fitforge/pkg/research"
	"github.com/fitforge-ai/fitforge/pkg/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the research gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Upstream.APIKey == "" {
				return fmt.Errorf("upstream api_key is not set (set it in the config file or via .env)")
			}

			var cache *cachepkg.Store
			if cfg.Cache.Enabled {
				cache, err = cachepkg.New(cfg.DBPath, cfg.Cache.TTL)
				if err != nil {
					return fmt.Errorf("open cache: %w", err)
				}
				defer func() { _ = cache.Close() }()
			}

			var limiter *ratelimit.Limiter
			if cfg.RateLimit.Enabled {
				limiter, err = ratelimit.New(cfg.DBPath, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.RequestsPerDay)
				if err != nil {
					return fmt.Errorf("open rate limiter: %w", err)
				}
				defer func() { _ = limiter.Close() }()
			}

			var ledger *analytics.Ledger
			if cfg.Analytics.Enabled {
				ledger, err = analytics.New(cfg.DBPath)
				if err != nil {
					return fmt.Errorf("open analytics: %w", err)
				}
				defer func() { _ = ledger.Close() }()
			}

			upstream := research.NewUpstream(cfg.Upstream.URL, cfg.Upstream.APIKey, cfg.Upstream.Timeout)
			svc := newService(cfg, cache, limiter, ledger, upstream)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return server.New(cfg, svc, cache, limiter, ledger).ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "fitforge.yaml", "path to config file")
	return cmd
}

func newService(cfg *config.Config, cache *cachepkg.Store, limiter *ratelimit.Limiter, ledger *analytics.Ledger, upstream research.UpstreamClient) *research.Service {
	// Typed nils must not reach the service's interface fields.
	var (
		cs research.CacheStore
		lm research.Limiter
		rc research.Recorder
	)
	if cache != nil {
		cs = cache
	}
	if limiter != nil {
		lm = limiter
	}
	if ledger != nil {
		rc = ledger
	}
	return research.New(cs, lm, rc, upstream, research.Options{
		MaxRetries:  cfg.Retry.MaxRetries,
		BackoffBase: cfg.Retry.BackoffBase,
		BackoffMax:  cfg.Retry.BackoffMax,
		Temperature: cfg.Upstream.Temperature,
		MaxTokens:   cfg.Upstream.MaxTokens,
	})
}

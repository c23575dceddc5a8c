package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fitforge-ai/fitforge/pkg/ratelimit"
	"github.com/spf13/cobra"
)

func newRateLimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Inspect and adjust the API rate limiter",
	}

	cmd.AddCommand(
		newRateLimitStatusCmd(),
		newRateLimitSetCmd(),
	)
	return cmd
}

func newRateLimitStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show current window counters and limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openLimiter(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			state, err := l.Status(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Minute window: %d/%d (reset %s)\n",
				state.MinuteCount, state.RequestsPerMinute,
				state.LastResetMinute.Format(time.RFC3339))
			fmt.Printf("Day window:    %d/%d (reset %s)\n",
				state.DayCount, state.RequestsPerDay,
				state.LastResetDay.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func newRateLimitSetCmd() *cobra.Command {
	var (
		configPath string
		perMinute  int
		perDay     int
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the persisted request limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			if perMinute <= 0 || perDay <= 0 {
				return fmt.Errorf("--per-minute and --per-day must be positive")
			}

			l, cleanup, err := openLimiter(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := l.SetLimits(context.Background(), perMinute, perDay); err != nil {
				return err
			}
			fmt.Printf("Limits set to %d/minute, %d/day.\n", perMinute, perDay)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().IntVar(&perMinute, "per-minute", 0, "requests allowed per minute")
	cmd.Flags().IntVar(&perDay, "per-day", 0, "requests allowed per day")
	return cmd
}

func openLimiter(configPath string) (*ratelimit.Limiter, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	l, err := ratelimit.New(cfg.DBPath, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.RequestsPerDay)
	if err != nil {
		return nil, nil, fmt.Errorf("open rate limit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

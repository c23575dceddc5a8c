package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fitforge-ai/fitforge/pkg/analytics"
	"github.com/fitforge-ai/fitforge/pkg/models"
	"github.com/spf13/cobra"
)

func newAnalyticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Query and manage the research call ledger",
	}

	cmd.AddCommand(
		newAnalyticsListCmd(),
		newAnalyticsSummaryCmd(),
		newAnalyticsCleanupCmd(),
	)
	return cmd
}

func newAnalyticsListCmd() *cobra.Command {
	var (
		configPath string
		model      string
		user       string
		since      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent research calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openLedger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.CallQueryOpts{
				Model:  model,
				UserID: user,
				Limit:  limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			records, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatCallRecords(records))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&model, "model", "", "filter by model")
	cmd.Flags().StringVar(&user, "user", "", "filter by user ID")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max records to return")

	return cmd
}

func newAnalyticsSummaryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show call counts by model and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openLedger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			summaries, err := l.Summary(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatCallSummaries(summaries))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func newAnalyticsCleanupCmd() *cobra.Command {
	var (
		configPath string
		days       int
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete ledger rows older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if days <= 0 {
				days = cfg.Analytics.RetentionDays
			}

			l, err := analytics.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open analytics db: %w", err)
			}
			defer func() { _ = l.Close() }()

			deleted, err := l.Cleanup(context.Background(), days)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d ledger rows older than %d days.\n", deleted, days)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().IntVar(&days, "days", 0, "retention period in days (defaults to config)")
	return cmd
}

func openLedger(configPath string) (*analytics.Ledger, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	l, err := analytics.New(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open analytics db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatCallRecords(records []models.CallRecord) string {
	if len(records) == 0 {
		return "No research calls found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-20s %-10s %-7s %-6s %8s %-20s %s\n",
		"ID", "MODEL", "USER", "OK", "CACHED", "LATENCY", "TIME", "QUERY")
	b.WriteString(strings.Repeat("-", 110) + "\n")
	for _, r := range records {
		query := r.QueryText
		if len(query) > 40 {
			query = query[:37] + "..."
		}
		fmt.Fprintf(&b, "%-6d %-20s %-10s %-7t %-6t %6dms %-20s %s\n",
			r.ID, r.Model, r.UserID, r.Success, r.Cached,
			r.ResponseTimeMs, r.CreatedAt.Format("2006-01-02 15:04:05"), query)
	}
	return b.String()
}

func formatCallSummaries(summaries []models.CallSummary) string {
	if len(summaries) == 0 {
		return "No research calls found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %-12s %8s %10s %10s %12s\n",
		"MODEL", "DAY", "CALLS", "SUCCESSES", "CACHED", "AVG LATENCY")
	b.WriteString(strings.Repeat("-", 82) + "\n")
	for _, s := range summaries {
		fmt.Fprintf(&b, "%-25s %-12s %8d %10d %10d %10dms\n",
			s.Model, s.Day, s.Calls, s.Successes, s.CacheHits, s.AvgLatencyMs)
	}
	return b.String()
}

package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fitforge-ai/fitforge/pkg/models"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "analytics_test.db")
	l, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndQuery(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	err := l.Record(ctx, models.CallRecord{
		UserID:         "user-1",
		QueryText:      "best beginner exercises",
		Model:          "sonar-medium-chat",
		Success:        true,
		ResponseTimeMs: 850,
		Cached:         false,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = l.Record(ctx, models.CallRecord{
		UserID:         "user-2",
		QueryText:      "best beginner exercises",
		Model:          "sonar-medium-chat",
		Success:        true,
		ResponseTimeMs: 3,
		Cached:         true,
	})
	if err != nil {
		t.Fatal(err)
	}

	records, err := l.Query(ctx, models.CallQueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	// Newest first.
	if !records[0].Cached {
		t.Error("expected the cached call first")
	}

	records, err = l.Query(ctx, models.CallQueryOpts{UserID: "user-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].UserID != "user-1" {
		t.Errorf("user filter failed: %+v", records)
	}
}

func TestQueryFailureRecord(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	err := l.Record(ctx, models.CallRecord{
		QueryText:      "squat form",
		Model:          "sonar-medium-chat",
		Success:        false,
		ErrorMessage:   "upstream rate limited",
		ResponseTimeMs: 1200,
	})
	if err != nil {
		t.Fatal(err)
	}

	records, err := l.Query(ctx, models.CallQueryOpts{Model: "sonar-medium-chat"})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Success {
		t.Error("expected failure record")
	}
	if records[0].ErrorMessage != "upstream rate limited" {
		t.Errorf("unexpected error message: %s", records[0].ErrorMessage)
	}
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	now := time.Now().UTC()
	_ = l.Record(ctx, models.CallRecord{QueryText: "q1", Model: "sonar-medium-chat", Success: true, ResponseTimeMs: 100, CreatedAt: now})
	_ = l.Record(ctx, models.CallRecord{QueryText: "q1", Model: "sonar-medium-chat", Success: true, Cached: true, ResponseTimeMs: 2, CreatedAt: now})
	_ = l.Record(ctx, models.CallRecord{QueryText: "q2", Model: "sonar-medium-chat", Success: false, ResponseTimeMs: 300, CreatedAt: now})

	summaries, err := l.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary row, got %d", len(summaries))
	}
	s := summaries[0]
	if s.Calls != 3 || s.Successes != 2 || s.CacheHits != 1 {
		t.Errorf("unexpected aggregates: %+v", s)
	}
	if s.AvgLatencyMs != 134 {
		t.Errorf("expected avg latency 134ms, got %d", s.AvgLatencyMs)
	}
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	old := time.Now().UTC().AddDate(0, 0, -120)
	_ = l.Record(ctx, models.CallRecord{QueryText: "old", Model: "m", CreatedAt: old})
	_ = l.Record(ctx, models.CallRecord{QueryText: "new", Model: "m"})

	deleted, err := l.Cleanup(ctx, 90)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted record, got %d", deleted)
	}

	records, _ := l.Query(ctx, models.CallQueryOpts{})
	if len(records) != 1 || records[0].QueryText != "new" {
		t.Errorf("expected only the recent record to remain: %+v", records)
	}
}

func TestNilLedgerIsNoop(t *testing.T) {
	var l *Ledger
	if err := l.Record(context.Background(), models.CallRecord{QueryText: "q"}); err != nil {
		t.Errorf("nil ledger should be a no-op, got %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("nil ledger close should be a no-op, got %v", err)
	}
}

func TestOpenAppliesWALAndBusyTimeout(t *testing.T) {
	l := newTestLedger(t)

	var mode string
	if err := l.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("expected journal_mode wal, got %q", mode)
	}

	var timeout int
	if err := l.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatal(err)
	}
	if timeout != 5000 {
		t.Errorf("expected busy_timeout 5000, got %d", timeout)
	}
}

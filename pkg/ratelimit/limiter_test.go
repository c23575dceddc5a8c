package ratelimit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fitforge-ai/fitforge/pkg/models"
)

func newTestLimiter(t *testing.T, perMinute, perDay int) *Limiter {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ratelimit_test.db")
	l, err := New(dbPath, perMinute, perDay)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// rewindMinuteWindow pushes the persisted minute reset into the past to
// simulate a window boundary crossing without sleeping.
func rewindMinuteWindow(t *testing.T, l *Limiter, by time.Duration) {
	t.Helper()
	past := time.Now().UTC().Add(-by)
	if _, err := l.db.Exec(`UPDATE rate_limit_state SET last_reset_minute = ? WHERE id = 1`, past); err != nil {
		t.Fatal(err)
	}
}

func TestMinuteLimitExhaustion(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 2, 100)

	for i := 0; i < 2; i++ {
		if d := l.Check(ctx); !d.Allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	d := l.Check(ctx)
	if d.Allowed {
		t.Fatal("third call in the same minute should be rejected")
	}
	if d.Window != models.LimitMinute {
		t.Errorf("expected minute window, got %s", d.Window)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("expected retry-after within (0, 1m], got %v", d.RetryAfter)
	}
}

func TestMinuteWindowRollover(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 1, 100)

	if d := l.Check(ctx); !d.Allowed {
		t.Fatal("first call should be allowed")
	}
	if d := l.Check(ctx); d.Allowed {
		t.Fatal("second call in the same minute should be rejected")
	}

	rewindMinuteWindow(t, l, 2*time.Minute)

	if d := l.Check(ctx); !d.Allowed {
		t.Fatal("call after window rollover should be allowed")
	}

	state, err := l.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state.MinuteCount != 1 {
		t.Errorf("expected minute counter reset to 1 after rollover, got %d", state.MinuteCount)
	}
	if state.DayCount != 2 {
		t.Errorf("expected day counter 2, got %d", state.DayCount)
	}
}

func TestDayLimit(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 100, 1)

	if d := l.Check(ctx); !d.Allowed {
		t.Fatal("first call should be allowed")
	}

	d := l.Check(ctx)
	if d.Allowed {
		t.Fatal("second call should exceed the daily limit")
	}
	if d.Window != models.LimitDay {
		t.Errorf("expected day window, got %s", d.Window)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 24*time.Hour {
		t.Errorf("expected retry-after within (0, 24h], got %v", d.RetryAfter)
	}
}

func TestMinuteCheckedBeforeDay(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 1, 1)

	if d := l.Check(ctx); !d.Allowed {
		t.Fatal("first call should be allowed")
	}

	// Both windows are exhausted; the caller must be told to wait a minute,
	// not a day.
	d := l.Check(ctx)
	if d.Allowed {
		t.Fatal("expected rejection")
	}
	if d.Window != models.LimitMinute {
		t.Errorf("expected minute window reported first, got %s", d.Window)
	}
}

func TestFailOpen(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 1, 1)
	_ = l.Close()

	if d := l.Check(ctx); !d.Allowed {
		t.Error("expected fail-open allow on storage error")
	}
}

func TestSetLimits(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 1, 10)

	if err := l.SetLimits(ctx, 5, 50); err != nil {
		t.Fatal(err)
	}

	state, err := l.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state.RequestsPerMinute != 5 || state.RequestsPerDay != 50 {
		t.Errorf("expected limits 5/50, got %d/%d", state.RequestsPerMinute, state.RequestsPerDay)
	}

	// The stored limits govern subsequent checks.
	for i := 0; i < 5; i++ {
		if d := l.Check(ctx); !d.Allowed {
			t.Fatalf("call %d should be allowed under raised limit", i+1)
		}
	}
	if d := l.Check(ctx); d.Allowed {
		t.Error("sixth call should exceed the raised minute limit")
	}
}

func TestOpenAppliesWALAndBusyTimeout(t *testing.T) {
	l := newTestLimiter(t, 10, 500)

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

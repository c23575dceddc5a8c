// Package ratelimit enforces fixed per-minute and per-day request windows
// against the upstream research API. State lives in a singleton SQLite row
// so counters survive restarts.
package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fitforge-ai/fitforge/pkg/models"
)

// Limiter gates outgoing upstream calls. The minute window is checked before
// the day window, so a minute-exhausted caller is told to wait minutes, not
// until tomorrow. State updates are read-modify-write without a transaction;
// an occasional over-admission under concurrent checks is accepted.
//
// Check fails open: availability beats cost-control precision, so any
// storage error admits the request and logs the failure.
type Limiter struct {
	db        *sql.DB
	perMinute int
	perDay    int
}

const createStateTable = `
CREATE TABLE IF NOT EXISTS rate_limit_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	requests_per_minute INTEGER NOT NULL,
	requests_per_day INTEGER NOT NULL,
	last_reset_minute DATETIME NOT NULL,
	last_reset_day DATETIME NOT NULL,
	current_minute_count INTEGER NOT NULL,
	current_day_count INTEGER NOT NULL
);
`

// New opens the limiter database and creates the schema. perMinute and
// perDay seed the singleton row on first use; once the row exists its stored
// limits govern, so operators can adjust them without a restart.
func New(dbPath string, perMinute, perDay int) (*Limiter, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open rate limit db: %w", err)
	}

	if _, err := db.Exec(createStateTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate rate limit db: %w", err)
	}

	return &Limiter{db: db, perMinute: perMinute, perDay: perDay}, nil
}

// Check decides whether one more upstream call is allowed right now and, if
// so, consumes a slot in both windows.
func (l *Limiter) Check(ctx context.Context) models.Decision {
	state, err := l.load(ctx)
	if err != nil {
		log.Printf("rate limit check failed open: %v", err)
		return models.Decision{Allowed: true}
	}

	now := time.Now().UTC()
	minuteRolled := now.Sub(state.LastResetMinute) >= time.Minute
	dayRolled := now.Sub(state.LastResetDay) >= 24*time.Hour

	minuteCount := state.MinuteCount
	if minuteRolled {
		minuteCount = 0
	}
	dayCount := state.DayCount
	if dayRolled {
		dayCount = 0
	}

	if minuteCount >= state.RequestsPerMinute {
		return models.Decision{
			Window:     models.LimitMinute,
			RetryAfter: state.LastResetMinute.Add(time.Minute).Sub(now),
		}
	}
	if dayCount >= state.RequestsPerDay {
		return models.Decision{
			Window:     models.LimitDay,
			RetryAfter: state.LastResetDay.Add(24 * time.Hour).Sub(now),
		}
	}

	lastResetMinute := state.LastResetMinute
	if minuteRolled {
		lastResetMinute = now
	}
	lastResetDay := state.LastResetDay
	if dayRolled {
		lastResetDay = now
	}

	_, err = l.db.ExecContext(ctx,
		`UPDATE rate_limit_state
		 SET current_minute_count = ?, current_day_count = ?, last_reset_minute = ?, last_reset_day = ?
		 WHERE id = 1`,
		minuteCount+1, dayCount+1, lastResetMinute, lastResetDay,
	)
	if err != nil {
		log.Printf("rate limit increment failed: %v", err)
	}

	return models.Decision{Allowed: true}
}

// Status returns the current persisted state, initializing it if absent.
func (l *Limiter) Status(ctx context.Context) (models.RateLimitState, error) {
	return l.load(ctx)
}

// SetLimits updates the configured window limits in place.
func (l *Limiter) SetLimits(ctx context.Context, perMinute, perDay int) error {
	if _, err := l.load(ctx); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE rate_limit_state SET requests_per_minute = ?, requests_per_day = ? WHERE id = 1`,
		perMinute, perDay,
	)
	if err != nil {
		return fmt.Errorf("set rate limits: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (l *Limiter) Close() error {
	return l.db.Close()
}

// load reads the singleton row, inserting defaults on first use.
func (l *Limiter) load(ctx context.Context) (models.RateLimitState, error) {
	var s models.RateLimitState
	err := l.db.QueryRowContext(ctx,
		`SELECT requests_per_minute, requests_per_day, last_reset_minute, last_reset_day,
		        current_minute_count, current_day_count
		 FROM rate_limit_state WHERE id = 1`,
	).Scan(&s.RequestsPerMinute, &s.RequestsPerDay, &s.LastResetMinute, &s.LastResetDay,
		&s.MinuteCount, &s.DayCount)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("load rate limit state: %w", err)
	}

	now := time.Now().UTC()
	s = models.RateLimitState{
		RequestsPerMinute: l.perMinute,
		RequestsPerDay:    l.perDay,
		LastResetMinute:   now,
		LastResetDay:      now,
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO rate_limit_state
		 (id, requests_per_minute, requests_per_day, last_reset_minute, last_reset_day, current_minute_count, current_day_count)
		 VALUES (1, ?, ?, ?, ?, 0, 0)`,
		s.RequestsPerMinute, s.RequestsPerDay, s.LastResetMinute, s.LastResetDay,
	)
	if err != nil {
		return s, fmt.Errorf("init rate limit state: %w", err)
	}
	return s, nil
}

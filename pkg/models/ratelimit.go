package models

import "time"

// LimitWindow identifies which fixed window rejected a request.
type LimitWindow string

const (
	LimitMinute LimitWindow = "minute"
	LimitDay    LimitWindow = "day"
)

// RateLimitState is the persisted fixed-window counter singleton.
type RateLimitState struct {
	RequestsPerMinute int       `json:"requests_per_minute"`
	RequestsPerDay    int       `json:"requests_per_day"`
	LastResetMinute   time.Time `json:"last_reset_minute"`
	LastResetDay      time.Time `json:"last_reset_day"`
	MinuteCount       int       `json:"current_minute_count"`
	DayCount          int       `json:"current_day_count"`
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Window     LimitWindow   `json:"limit_type,omitempty"`
}

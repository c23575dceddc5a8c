package models

import "time"

// CallRecord is one row in the append-only research call ledger. A record is
// written once per terminal outcome, never per retry attempt.
type CallRecord struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"user_id,omitempty"`
	QueryText      string    `json:"query_text"`
	SystemPrompt   string    `json:"system_prompt,omitempty"`
	Model          string    `json:"model,omitempty"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Cached         bool      `json:"cached"`
	Fallback       bool      `json:"fallback,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CallQueryOpts specifies filters for querying the call ledger.
type CallQueryOpts struct {
	Model  string
	UserID string
	Since  time.Time
	Limit  int
}

// CallSummary holds aggregate call counts for a model/day combination.
type CallSummary struct {
	Model        string `json:"model"`
	Day          string `json:"day"`
	Calls        int64  `json:"calls"`
	Successes    int64  `json:"successes"`
	CacheHits    int64  `json:"cache_hits"`
	AvgLatencyMs int64  `json:"avg_latency_ms"`
}

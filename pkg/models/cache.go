package models

import "time"

// CacheEntry stores a cached upstream response, keyed by query hash.
type CacheEntry struct {
	QueryHash      string    `json:"query_hash"`
	QueryText      string    `json:"query_text"`
	SystemPrompt   string    `json:"system_prompt,omitempty"`
	Model          string    `json:"model"`
	ResponseText   string    `json:"response_text"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
}

// CacheStats reports cache size and hit/miss counters.
type CacheStats struct {
	Entries       int64 `json:"entries"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	TotalAccesses int64 `json:"total_accesses"`
}

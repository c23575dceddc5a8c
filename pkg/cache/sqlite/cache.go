// Package sqlite implements the server-side research response cache: an
// exact-match, content-addressed store backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fitforge-ai/fitforge/pkg/models"
)

// Store is the persistent response cache. Lookups fail open: any storage
// error is logged and reported as a miss so the request path never depends
// on cache health.
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	query_hash TEXT PRIMARY KEY,
	query_text TEXT NOT NULL,
	system_prompt TEXT,
	model TEXT NOT NULL,
	response_text TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	last_accessed_at DATETIME NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 1
);
`

// New opens the cache database and creates the schema.
func New(dbPath string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db, ttl: ttl}, nil
}

// Lookup retrieves a cached response by query hash. An entry older than the
// TTL is deleted as a side effect and reported as a miss. On a hit the
// access counter and last-access timestamp are bumped before returning.
func (s *Store) Lookup(ctx context.Context, hash string) (models.CacheEntry, bool) {
	var e models.CacheEntry
	var systemPrompt sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT query_hash, query_text, system_prompt, model, response_text, created_at, last_accessed_at, access_count
		 FROM cache_entries WHERE query_hash = ?`, hash,
	).Scan(&e.QueryHash, &e.QueryText, &systemPrompt, &e.Model, &e.ResponseText,
		&e.CreatedAt, &e.LastAccessedAt, &e.AccessCount)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("cache lookup failed: %v", err)
		}
		s.misses.Add(1)
		return models.CacheEntry{}, false
	}
	e.SystemPrompt = systemPrompt.String

	if time.Since(e.CreatedAt) > s.ttl {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE query_hash = ?`, hash); err != nil {
			log.Printf("cache expiry delete failed: %v", err)
		}
		s.misses.Add(1)
		return models.CacheEntry{}, false
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET access_count = access_count + 1, last_accessed_at = ? WHERE query_hash = ?`,
		now, hash,
	); err != nil {
		log.Printf("cache access bump failed: %v", err)
	} else {
		e.AccessCount++
		e.LastAccessedAt = now
	}

	s.hits.Add(1)
	return e, true
}

// Store inserts a cached response with a fresh access count. Concurrent
// writes for the same hash are last-write-wins; content is identical for the
// same key, so the race is harmless.
func (s *Store) Store(ctx context.Context, e models.CacheEntry) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries
		 (query_hash, query_text, system_prompt, model, response_text, created_at, last_accessed_at, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		e.QueryHash, e.QueryText, e.SystemPrompt, e.Model, e.ResponseText, now, now,
	)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Stats returns cache size and hit-ratio counters.
func (s *Store) Stats(ctx context.Context) (models.CacheStats, error) {
	var count int64
	var accesses sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(access_count) FROM cache_entries`).Scan(&count, &accesses)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries:       count,
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		TotalAccesses: accesses.Int64,
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only entries past the
// TTL are removed.
func (s *Store) Clear(ctx context.Context, expiredOnly bool) error {
	var err error
	if expiredOnly {
		cutoff := time.Now().UTC().Add(-s.ttl)
		_, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE created_at < ?`, cutoff)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	}
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

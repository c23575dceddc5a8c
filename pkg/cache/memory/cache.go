// Package memory implements the session-local response cache: a bounded
// in-process store with TTL expiry and least-recently-used eviction. It
// mirrors the server cache's API so callers can layer the two.
package memory

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a session-cached response stays fresh.
	DefaultTTL = 24 * time.Hour
	// DefaultMaxEntries bounds the cache size before LRU eviction kicks in.
	DefaultMaxEntries = 50
)

type entry struct {
	response string
	storedAt time.Time
}

// Store is a TTL+LRU response cache safe for concurrent use. The recency
// list orders hashes least-recently-used first; list and entry map are
// mutated together under the lock, so no entry exists without a list node
// and vice versa.
type Store struct {
	mu          sync.Mutex
	ttl         time.Duration
	maxEntries  int
	entries     map[string]entry
	recency     *list.List
	index       map[string]*list.Element
	lastCleanup time.Time
}

// New creates a Store. Non-positive ttl or maxEntries fall back to the
// package defaults.
func New(ttl time.Duration, maxEntries int) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		ttl:         ttl,
		maxEntries:  maxEntries,
		entries:     make(map[string]entry),
		recency:     list.New(),
		index:       make(map[string]*list.Element),
		lastCleanup: time.Now(),
	}
}

// Lookup returns the cached response for a hash. Expired entries are removed
// and reported as misses; a hit promotes the hash to most-recently-used.
func (s *Store) Lookup(hash string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[hash]
	if !ok {
		return "", false
	}
	if time.Since(e.storedAt) > s.ttl {
		s.remove(hash)
		return "", false
	}

	s.recency.MoveToBack(s.index[hash])
	return e.response, true
}

// Store writes a response and promotes it to most-recently-used, then runs
// cleanup if the cleanup interval elapsed or the size bound is exceeded.
func (s *Store) Store(hash, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.entries[hash] = entry{response: response, storedAt: now}
	if el, ok := s.index[hash]; ok {
		s.recency.MoveToBack(el)
	} else {
		s.index[hash] = s.recency.PushBack(hash)
	}

	if now.Sub(s.lastCleanup) > s.ttl || len(s.entries) > s.maxEntries {
		s.cleanup(now)
	}
}

// Clear drops every entry and resets the metadata. Safe to call on an empty
// cache.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]entry)
	s.index = make(map[string]*list.Element)
	s.recency.Init()
	s.lastCleanup = time.Now()
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// cleanup drops expired entries first, then evicts least-recently-used
// entries until the size bound holds. Caller must hold the lock.
func (s *Store) cleanup(now time.Time) {
	s.lastCleanup = now

	var expired []string
	for hash, e := range s.entries {
		if now.Sub(e.storedAt) > s.ttl {
			expired = append(expired, hash)
		}
	}
	for _, hash := range expired {
		s.remove(hash)
	}

	for len(s.entries) > s.maxEntries {
		front := s.recency.Front()
		if front == nil {
			break
		}
		s.remove(front.Value.(string))
	}
}

// remove deletes one entry and its recency node. Caller must hold the lock.
func (s *Store) remove(hash string) {
	if el, ok := s.index[hash]; ok {
		s.recency.Remove(el)
		delete(s.index, hash)
	}
	delete(s.entries, hash)
}

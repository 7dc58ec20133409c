// Package replay tracks consumed one-time token identifiers (jti). A jti is
// consumed at most once; a second consumption attempt is a replay. The
// check-and-set must be a single atomic operation so two concurrent uses of
// the same stolen token cannot both succeed.
package replay

import (
	"context"
	"sync"
	"time"
)

// Store records consumed token identifiers with a TTL
type Store interface {
	// Consume atomically marks the jti as used for the given TTL.
	// Returns true if this call consumed it, false if it was already
	// consumed. Consumption is not reversible: a jti stays consumed even
	// if the surrounding request is later abandoned.
	Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

// MemoryStore is an in-process replay store. Check and set happen under one
// lock, so concurrent consumers of the same jti observe a single winner.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // jti -> consumed-until
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory replay store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// NewMemoryStoreWithClock creates a store with an injected clock for tests
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		now:     now,
	}
}

// Consume implements Store
func (s *MemoryStore) Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if until, exists := s.entries[jti]; exists && now.Before(until) {
		return false, nil
	}

	s.entries[jti] = now.Add(ttl)
	return true, nil
}

// Len returns the number of tracked entries, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// CleanupExpired removes all expired entries and returns how many were dropped
func (s *MemoryStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for jti, until := range s.entries {
		if !now.Before(until) {
			delete(s.entries, jti)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker starts a background worker to periodically clean up expired entries
func (s *MemoryStore) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}

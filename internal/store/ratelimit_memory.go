package store

import (
	"context"
	"sync"
	"time"

	"github.com/serroba/purview/internal/clock"
)

// RateLimitMemoryStore is an in-memory implementation of ratelimit.Store.
type RateLimitMemoryStore struct {
	mu       sync.Mutex
	clock    clock.Clock
	requests map[string][]time.Time
}

// NewRateLimitMemoryStore creates a new in-memory rate limit store.
// A nil clk uses the wall clock.
func NewRateLimitMemoryStore(clk clock.Clock) *RateLimitMemoryStore {
	if clk == nil {
		clk = clock.Real{}
	}

	return &RateLimitMemoryStore{
		clock:    clk,
		requests: make(map[string][]time.Time),
	}
}

func (s *RateLimitMemoryStore) Record(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	cutoff := now.Add(-window)

	timestamps := s.requests[key]
	valid := make([]time.Time, 0, len(timestamps)+1)

	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	valid = append(valid, now)
	s.requests[key] = valid

	return int64(len(valid)), nil
}

// Sweep drops keys whose newest request is older than window.
// It returns the number of keys removed.
func (s *RateLimitMemoryStore) Sweep(window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-window)
	removed := 0

	for key, timestamps := range s.requests {
		if len(timestamps) == 0 || !timestamps[len(timestamps)-1].After(cutoff) {
			delete(s.requests, key)
			removed++
		}
	}

	return removed
}

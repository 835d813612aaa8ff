package service

import (
	"sync"
	"time"
)

type scheduledExpiry struct {
	token uint64
	timer *time.Timer
}

// ExpiryScheduler arms one-shot expiry timers for outstanding codes.
// Entries are keyed by code string but guarded by the issuance token, so
// cancelling or firing against a re-issued identical string is a no-op.
type ExpiryScheduler struct {
	mu      sync.Mutex
	entries map[string]scheduledExpiry
	closed  bool
}

func NewExpiryScheduler() *ExpiryScheduler {
	return &ExpiryScheduler{
		entries: make(map[string]scheduledExpiry),
	}
}

// Schedule arms a timer that calls onExpire after ttl. A previously armed
// timer for the same code is replaced.
func (s *ExpiryScheduler) Schedule(code string, token uint64, ttl time.Duration, onExpire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if prev, ok := s.entries[code]; ok {
		prev.timer.Stop()
	}

	timer := time.AfterFunc(ttl, func() {
		s.remove(code, token)
		onExpire()
	})
	s.entries[code] = scheduledExpiry{token: token, timer: timer}
}

// Cancel disarms the timer for code, but only if it still belongs to the
// given issuance token.
func (s *ExpiryScheduler) Cancel(code string, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[code]
	if !ok || entry.token != token {
		return
	}
	entry.timer.Stop()
	delete(s.entries, code)
}

func (s *ExpiryScheduler) remove(code string, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[code]; ok && entry.token == token {
		delete(s.entries, code)
	}
}

// Close disarms all timers. Armed callbacks that already fired may still
// run; the registry's token check makes them harmless.
func (s *ExpiryScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for code, entry := range s.entries {
		entry.timer.Stop()
		delete(s.entries, code)
	}
}

// Armed returns the number of armed timers.
func (s *ExpiryScheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

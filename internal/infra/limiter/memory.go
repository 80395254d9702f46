// Package limiter bounds how many bank-account verifications a subject may attempt per window.
package limiter

import (
	"context"
	"sync"
	"time"

	"offramp_go/internal/clock"
)

// Memory is a sliding-window limiter kept in process memory.
type Memory struct {
	mu       sync.Mutex
	clock    clock.Clock
	limit    int
	window   time.Duration
	attempts map[string][]time.Time
}

// NewMemory allows limit attempts per subject within window.
func NewMemory(clk clock.Clock, limit int, window time.Duration) *Memory {
	return &Memory{
		clock:    clk,
		limit:    limit,
		window:   window,
		attempts: make(map[string][]time.Time),
	}
}

// Allow records an attempt for subject and reports whether it fits the window.
// Rejected attempts are not recorded.
func (m *Memory) Allow(_ context.Context, subject string) (bool, error) {
	if m.limit <= 0 {
		return true, nil
	}
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.attempts[subject][:0]
	for _, at := range m.attempts[subject] {
		if now.Sub(at) < m.window {
			kept = append(kept, at)
		}
	}
	if len(kept) >= m.limit {
		m.attempts[subject] = kept
		return false, nil
	}
	m.attempts[subject] = append(kept, now)
	return true, nil
}

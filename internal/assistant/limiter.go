// Package assistant fronts the external language-model provider: a strict
// per-user call budget, the provider client, and the chat endpoints.
package assistant

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/taskboard/taskboard-backend/internal/clock"
)

const (
	DefaultMaxCalls = 5
	DefaultWindow   = time.Minute
)

// Usage is a read-only view of one user's budget.
type Usage struct {
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// RateLimiter keeps a timestamp log per user and admits a call while fewer
// than max calls fall inside the trailing window.
type RateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	clock  clock.Clock
	calls  map[string][]time.Time
}

func NewRateLimiter(max int, window time.Duration, c clock.Clock) *RateLimiter {
	if max <= 0 {
		max = DefaultMaxCalls
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if c == nil {
		c = clock.Real{}
	}
	return &RateLimiter{
		max:    max,
		window: window,
		clock:  c,
		calls:  make(map[string][]time.Time),
	}
}

// Allow records a call for userID and reports whether it fits the budget.
// Rejected calls are not recorded.
func (l *RateLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	live := l.prune(userID, now)
	if len(live) >= l.max {
		return false
	}
	l.calls[userID] = append(live, now)
	return true
}

// RetryAfter returns how long until userID gets a slot back. Zero when a call
// would be admitted now.
func (l *RateLimiter) RetryAfter(userID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	live := l.live(userID, now)
	if len(live) < l.max {
		return 0
	}
	return live[0].Add(l.window).Sub(now)
}

// Usage never mutates the log.
func (l *RateLimiter) Usage(userID string) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	live := l.live(userID, now)
	u := Usage{
		Used:      len(live),
		Remaining: l.max - len(live),
		Limit:     l.max,
		ResetAt:   now.Add(l.window),
	}
	if len(live) > 0 {
		u.ResetAt = live[0].Add(l.window)
	}
	if u.Remaining < 0 {
		u.Remaining = 0
	}
	return u
}

func (l *RateLimiter) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.calls, userID)
}

func (l *RateLimiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = make(map[string][]time.Time)
}

// Sweep drops users whose every call has left the window and returns how
// many were removed.
func (l *RateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for userID := range l.calls {
		if l.prune(userID, now) == nil {
			removed++
		}
	}
	return removed
}

// Tracked returns the number of users holding a call log.
func (l *RateLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

// StartSweeper runs Sweep every interval until ctx is done.
func (l *RateLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := l.Sweep(); n > 0 {
					log.Printf("[assistant] swept %d idle call logs", n)
				}
			}
		}
	}()
}

// live returns the calls of userID still inside the window, oldest first.
func (l *RateLimiter) live(userID string, now time.Time) []time.Time {
	calls := l.calls[userID]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(calls) && !calls[i].After(cutoff) {
		i++
	}
	return calls[i:]
}

// prune is live plus dropping the expired prefix from the map.
func (l *RateLimiter) prune(userID string, now time.Time) []time.Time {
	live := l.live(userID, now)
	if len(live) == 0 {
		delete(l.calls, userID)
		return nil
	}
	if len(live) != len(l.calls[userID]) {
		kept := append([]time.Time(nil), live...)
		l.calls[userID] = kept
		return kept
	}
	return live
}

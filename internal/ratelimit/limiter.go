// Package ratelimit bounds how many requests a client may make per route
// within a fixed window, and how many distinct clients a route tracks.
package ratelimit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/taskboard/taskboard-backend/internal/clock"
)

type Status int

const (
	StatusAllowed Status = iota
	StatusThrottled
	StatusOverloaded
)

func (s Status) String() string {
	switch s {
	case StatusAllowed:
		return "allowed"
	case StatusThrottled:
		return "throttled"
	case StatusOverloaded:
		return "overloaded"
	default:
		return "unknown"
	}
}

// Result describes the outcome of one counted hit.
type Result struct {
	Status     Status
	Route      string
	Limit      int
	Used       int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// Bypassed is set when limiting is disabled and nothing was counted.
	Bypassed bool
}

func (r Result) Allowed() bool {
	return r.Status == StatusAllowed
}

// Usage is a read-only snapshot of a key's current window.
type Usage struct {
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Backend is implemented by the in-memory Limiter and by RedisLimiter.
type Backend interface {
	Hit(ctx context.Context, path, key string) (Result, error)
	// Peek reports what the next hit would see without counting it.
	Peek(ctx context.Context, path, key string) (Result, error)
}

// Entry is the counter for one key in one route window.
type Entry struct {
	Count       int
	WindowStart time.Time
}

func (e *Entry) expired(now time.Time, window time.Duration) bool {
	return !now.Before(e.WindowStart.Add(window))
}

func (e *Entry) resetAt(window time.Duration) time.Time {
	return e.WindowStart.Add(window)
}

type bucket struct {
	cfg     RouteConfig
	entries map[string]*Entry
}

// Limiter is a process-local fixed-window limiter.
type Limiter struct {
	mu      sync.Mutex
	routes  *RouteTable
	clock   clock.Clock
	enabled bool
	buckets map[string]*bucket
}

type Option func(*Limiter)

func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// Disabled turns every check into an uncounted allow.
func Disabled() Option {
	return func(l *Limiter) { l.enabled = false }
}

func New(routes *RouteTable, opts ...Option) *Limiter {
	if routes == nil {
		routes = DefaultRoutes()
	}
	l := &Limiter{
		routes:  routes,
		clock:   clock.Real{},
		enabled: true,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enabled reports whether the limiter counts requests.
func (l *Limiter) Enabled() bool {
	return l.enabled
}

// Allow counts a hit for key on the route matching path and reports whether it is within the limit.
func (l *Limiter) Allow(path, key string) bool {
	return l.Check(path, key).Allowed()
}

// Hit implements Backend. The in-memory limiter never fails.
func (l *Limiter) Hit(_ context.Context, path, key string) (Result, error) {
	return l.Check(path, key), nil
}

// Check counts a hit for key on the route matching path.
func (l *Limiter) Check(path, key string) Result {
	routeID, cfg := l.routes.Match(path)
	if !l.enabled {
		return Result{
			Status:    StatusAllowed,
			Route:     routeID,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests,
			Bypassed:  true,
		}
	}

	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(routeID, cfg)

	e, ok := b.entries[key]
	if ok && e.expired(now, cfg.Window) {
		delete(b.entries, key)
		ok = false
	}

	if !ok {
		if len(b.entries) >= cfg.MaxDistinctKeys {
			earliest := sweepBucket(b, now)
			if len(b.entries) >= cfg.MaxDistinctKeys {
				return Result{
					Status:     StatusOverloaded,
					Route:      routeID,
					Limit:      cfg.MaxRequests,
					ResetAt:    earliest,
					RetryAfter: earliest.Sub(now),
				}
			}
		}
		e = &Entry{WindowStart: now}
		b.entries[key] = e
	}

	resetAt := e.resetAt(cfg.Window)
	if e.Count >= cfg.MaxRequests {
		return Result{
			Status:     StatusThrottled,
			Route:      routeID,
			Limit:      cfg.MaxRequests,
			Used:       e.Count,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	e.Count++
	return Result{
		Status:    StatusAllowed,
		Route:     routeID,
		Limit:     cfg.MaxRequests,
		Used:      e.Count,
		Remaining: cfg.MaxRequests - e.Count,
		ResetAt:   resetAt,
	}
}

// Usage reports key's current window without counting a hit.
func (l *Limiter) Usage(path, key string) Usage {
	routeID, cfg := l.routes.Match(path)
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	fresh := Usage{Used: 0, Remaining: cfg.MaxRequests, ResetAt: now.Add(cfg.Window)}

	b, ok := l.buckets[routeID]
	if !ok {
		return fresh
	}
	e, ok := b.entries[key]
	if !ok || e.expired(now, cfg.Window) {
		return fresh
	}
	return Usage{
		Used:      e.Count,
		Remaining: cfg.MaxRequests - e.Count,
		ResetAt:   e.resetAt(cfg.Window),
	}
}

// Peek implements Backend.
func (l *Limiter) Peek(_ context.Context, path, key string) (Result, error) {
	routeID, cfg := l.routes.Match(path)
	if !l.enabled {
		return Result{
			Status:    StatusAllowed,
			Route:     routeID,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests,
			Bypassed:  true,
		}, nil
	}
	return peekResult(routeID, cfg, l.Usage(path, key), l.clock.Now()), nil
}

func peekResult(routeID string, cfg RouteConfig, u Usage, now time.Time) Result {
	res := Result{
		Status:    StatusAllowed,
		Route:     routeID,
		Limit:     cfg.MaxRequests,
		Used:      u.Used,
		Remaining: u.Remaining,
		ResetAt:   u.ResetAt,
	}
	if u.Remaining <= 0 {
		res.Status = StatusThrottled
		res.Remaining = 0
		res.RetryAfter = u.ResetAt.Sub(now)
	}
	return res
}

// Tracked returns the number of keys held for the route matching path, expired ones included.
func (l *Limiter) Tracked(path string) int {
	routeID, _ := l.routes.Match(path)

	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[routeID]; ok {
		return len(b.entries)
	}
	return 0
}

// Sweep drops every expired entry and returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, b := range l.buckets {
		before := len(b.entries)
		sweepBucket(b, now)
		removed += before - len(b.entries)
		if len(b.entries) == 0 {
			delete(l.buckets, id)
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
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
					log.Printf("[ratelimit] swept %d expired entries", n)
				}
			}
		}
	}()
}

func (l *Limiter) bucketFor(routeID string, cfg RouteConfig) *bucket {
	b, ok := l.buckets[routeID]
	if !ok {
		b = &bucket{cfg: cfg, entries: make(map[string]*Entry)}
		l.buckets[routeID] = b
	}
	return b
}

// sweepBucket removes expired entries and returns the earliest reset among the survivors.
func sweepBucket(b *bucket, now time.Time) time.Time {
	earliest := now.Add(b.cfg.Window)
	for key, e := range b.entries {
		if e.expired(now, b.cfg.Window) {
			delete(b.entries, key)
			continue
		}
		if r := e.resetAt(b.cfg.Window); r.Before(earliest) {
			earliest = r
		}
	}
	return earliest
}

// Package cache memoizes expensive reads for a TTL and evicts them early by tag.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/taskboard/taskboard-backend/internal/clock"
)

var ErrTypeMismatch = errors.New("cached value has unexpected type")

type Options struct {
	TTL  time.Duration
	Tags []string
}

type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

// Publisher forwards local invalidations to other instances.
type Publisher interface {
	Publish(ctx context.Context, tags []string) error
}

type entry struct {
	value      any
	tags       []string
	computedAt time.Time
	ttl        time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.computedAt.Add(e.ttl))
}

// Cache is a best-effort read-through cache. It never does I/O while holding its lock.
type Cache struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]*entry
	byTag   map[string]map[string]struct{}
	tagGen  map[string]uint64
	epoch   uint64
	stats   Stats

	group     singleflight.Group
	publisher Publisher
}

type Option func(*Cache)

func WithClock(c clock.Clock) Option {
	return func(ca *Cache) { ca.clock = c }
}

func New(opts ...Option) *Cache {
	c := &Cache{
		clock:   clock.Real{},
		entries: make(map[string]*entry),
		byTag:   make(map[string]map[string]struct{}),
		tagGen:  make(map[string]uint64),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetPublisher makes Invalidate broadcast through p.
func (c *Cache) SetPublisher(p Publisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publisher = p
}

// GetOrCompute returns the cached value for key or calls fn and caches its
// result. Errors from fn are returned as is and never cached. Concurrent
// misses on one key share a single call to fn. A nil cache always calls fn.
func GetOrCompute[T any](c *Cache, key string, opts Options, fn func() (T, error)) (T, error) {
	var zero T
	if c == nil {
		return fn()
	}

	if v, ok := c.lookup(key); ok {
		if t, ok := v.(T); ok {
			return t, nil
		}
	}

	snap, epoch := c.snapshot(opts.Tags)
	v, err, _ := c.group.Do(fmt.Sprintf("%s@%d", key, epoch), func() (any, error) {
		val, err := fn()
		if err != nil {
			return nil, err
		}
		c.store(key, val, opts, snap)
		return val, nil
	})
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: key %s", ErrTypeMismatch, key)
	}
	return t, nil
}

// Invalidate evicts every entry carrying any of tags, regardless of TTL, and
// broadcasts the tags when a publisher is set.
func (c *Cache) Invalidate(ctx context.Context, tags ...string) {
	if c == nil || len(tags) == 0 {
		return
	}
	c.InvalidateLocal(tags...)

	c.mu.Lock()
	p := c.publisher
	c.mu.Unlock()
	if p != nil {
		if err := p.Publish(ctx, tags); err != nil {
			log.Printf("[cache] publish invalidation %v: %v", tags, err)
		}
	}
}

// InvalidateLocal evicts without broadcasting. Used for invalidations received from peers.
func (c *Cache) InvalidateLocal(tags ...string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	evicted := 0
	for _, tag := range tags {
		c.tagGen[tag]++
		for key := range c.byTag[tag] {
			if _, ok := c.entries[key]; ok {
				c.removeLocked(key)
				evicted++
			}
		}
		delete(c.byTag, tag)
	}
	c.stats.Evictions += int64(evicted)
	return evicted
}

// Purge drops expired entries and reports how many went.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	n := 0
	for key, e := range c.entries {
		if e.expired(now) {
			c.removeLocked(key)
			n++
		}
	}
	return n
}

// StartPurger runs Purge on a ticker until ctx is done.
func (c *Cache) StartPurger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Purge(); n > 0 {
					log.Printf("[cache] purged %d expired entries", n)
				}
			}
		}
	}()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

func (c *Cache) lookup(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if e.expired(c.clock.Now()) {
		c.removeLocked(key)
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.value, true
}

// snapshot records the generation of each tag before a compute starts.
func (c *Cache) snapshot(tags []string) (map[string]uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := make(map[string]uint64, len(tags))
	for _, t := range tags {
		snap[t] = c.tagGen[t]
	}
	return snap, c.epoch
}

// store keeps val unless one of its tags was invalidated since snap was taken.
func (c *Cache) store(key string, val any, opts Options, snap map[string]uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for t, g := range snap {
		if c.tagGen[t] != g {
			return
		}
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = TTLDynamic
	}
	if _, ok := c.entries[key]; ok {
		c.removeLocked(key)
	}
	tags := append([]string(nil), opts.Tags...)
	c.entries[key] = &entry{value: val, tags: tags, computedAt: c.clock.Now(), ttl: ttl}
	for _, t := range tags {
		set, ok := c.byTag[t]
		if !ok {
			set = make(map[string]struct{})
			c.byTag[t] = set
		}
		set[key] = struct{}{}
	}
}

func (c *Cache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	for _, t := range e.tags {
		if set, ok := c.byTag[t]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(c.byTag, t)
			}
		}
	}
}

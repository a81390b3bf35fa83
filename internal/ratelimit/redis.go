package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskboard/taskboard-backend/internal/clock"
)

const (
	counterKeyPrefix = "rl:count:" // rl:count:{route}:{key}
	clientsKeyPrefix = "rl:keys:"  // sorted set of keys per route, scored by window start (ms)
)

// RedisLimiter shares fixed-window counters between instances.
// The counter lives in one Redis key per route/client with the window as TTL.
type RedisLimiter struct {
	client *redis.Client
	routes *RouteTable
	clock  clock.Clock
}

func NewRedisLimiter(client *redis.Client, routes *RouteTable, c clock.Clock) *RedisLimiter {
	if routes == nil {
		routes = DefaultRoutes()
	}
	if c == nil {
		c = clock.Real{}
	}
	return &RedisLimiter{client: client, routes: routes, clock: c}
}

// Hit implements Backend.
func (r *RedisLimiter) Hit(ctx context.Context, path, key string) (Result, error) {
	routeID, cfg := r.routes.Match(path)
	now := r.clock.Now()
	countKey := r.counterKey(routeID, key)

	exists, err := r.client.Exists(ctx, countKey).Result()
	if err != nil {
		return Result{}, fmt.Errorf("check counter: %w", err)
	}

	if exists == 0 {
		overloaded, err := r.admit(ctx, routeID, key, cfg, now)
		if err != nil {
			return Result{}, err
		}
		if overloaded {
			return Result{
				Status:     StatusOverloaded,
				Route:      routeID,
				Limit:      cfg.MaxRequests,
				ResetAt:    now.Add(cfg.Window),
				RetryAfter: cfg.Window,
			}, nil
		}
	}

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, countKey)
	ttl := pipe.PTTL(ctx, countKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("increment counter: %w", err)
	}

	count := int(incr.Val())
	remaining := ttl.Val()
	if count == 1 || remaining < 0 {
		if err := r.client.PExpire(ctx, countKey, cfg.Window).Err(); err != nil {
			return Result{}, fmt.Errorf("expire counter: %w", err)
		}
		remaining = cfg.Window
	}
	resetAt := now.Add(remaining)

	if count > cfg.MaxRequests {
		// keep the stored count at the ceiling
		if err := r.client.Decr(ctx, countKey).Err(); err != nil {
			return Result{}, fmt.Errorf("revert counter: %w", err)
		}
		return Result{
			Status:     StatusThrottled,
			Route:      routeID,
			Limit:      cfg.MaxRequests,
			Used:       cfg.MaxRequests,
			ResetAt:    resetAt,
			RetryAfter: remaining,
		}, nil
	}

	return Result{
		Status:    StatusAllowed,
		Route:     routeID,
		Limit:     cfg.MaxRequests,
		Used:      count,
		Remaining: cfg.MaxRequests - count,
		ResetAt:   resetAt,
	}, nil
}

// Usage reads a key's window without counting.
func (r *RedisLimiter) Usage(ctx context.Context, path, key string) (Usage, error) {
	routeID, cfg := r.routes.Match(path)
	now := r.clock.Now()
	countKey := r.counterKey(routeID, key)

	pipe := r.client.Pipeline()
	get := pipe.Get(ctx, countKey)
	ttl := pipe.PTTL(ctx, countKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Usage{}, fmt.Errorf("read counter: %w", err)
	}

	if get.Err() == redis.Nil {
		return Usage{Remaining: cfg.MaxRequests, ResetAt: now.Add(cfg.Window)}, nil
	}
	used, err := strconv.Atoi(get.Val())
	if err != nil {
		return Usage{}, fmt.Errorf("parse counter: %w", err)
	}
	remaining := cfg.MaxRequests - used
	if remaining < 0 {
		remaining = 0
	}
	return Usage{Used: used, Remaining: remaining, ResetAt: now.Add(ttl.Val())}, nil
}

// Peek implements Backend.
func (r *RedisLimiter) Peek(ctx context.Context, path, key string) (Result, error) {
	routeID, cfg := r.routes.Match(path)
	u, err := r.Usage(ctx, path, key)
	if err != nil {
		return Result{}, err
	}
	return peekResult(routeID, cfg, u, r.clock.Now()), nil
}

// admit registers key as a live client of the route and reports whether the route is full.
func (r *RedisLimiter) admit(ctx context.Context, routeID, key string, cfg RouteConfig, now time.Time) (bool, error) {
	setKey := clientsKeyPrefix + routeID
	cutoff := now.Add(-cfg.Window).UnixMilli()

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, setKey, "-inf", strconv.FormatInt(cutoff, 10))
	added := pipe.ZAdd(ctx, setKey, redis.Z{Score: float64(now.UnixMilli()), Member: key})
	card := pipe.ZCard(ctx, setKey)
	pipe.PExpire(ctx, setKey, cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("track client: %w", err)
	}

	if added.Val() == 1 && card.Val() > int64(cfg.MaxDistinctKeys) {
		if err := r.client.ZRem(ctx, setKey, key).Err(); err != nil {
			return true, fmt.Errorf("untrack client: %w", err)
		}
		return true, nil
	}
	return false, nil
}

func (r *RedisLimiter) counterKey(routeID, key string) string {
	return fmt.Sprintf("%s%s:%s", counterKeyPrefix, routeID, key)
}

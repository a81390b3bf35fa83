package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const InvalidationChannel = "cache:invalidate"

type invalidation struct {
	Origin string   `json:"origin"`
	Tags   []string `json:"tags"`
}

// Bus relays tag invalidations between instances over Redis pub/sub.
type Bus struct {
	client  *redis.Client
	cache   *Cache
	origin  string
	channel string
}

// NewBus wires c to publish through client. Call Listen to apply peers' invalidations.
func NewBus(client *redis.Client, c *Cache) *Bus {
	b := &Bus{
		client:  client,
		cache:   c,
		origin:  uuid.NewString(),
		channel: InvalidationChannel,
	}
	c.SetPublisher(b)
	return b
}

func (b *Bus) Publish(ctx context.Context, tags []string) error {
	payload, err := json.Marshal(invalidation{Origin: b.origin, Tags: tags})
	if err != nil {
		return fmt.Errorf("encode invalidation: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Listen blocks until ctx is done, applying invalidations published by other instances.
func (b *Bus) Listen(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg.Payload)
		}
	}
}

func (b *Bus) handle(payload string) {
	var inv invalidation
	if err := json.Unmarshal([]byte(payload), &inv); err != nil {
		log.Printf("[cache] bad invalidation message: %v", err)
		return
	}
	if inv.Origin == b.origin || len(inv.Tags) == 0 {
		return
	}
	b.cache.InvalidateLocal(inv.Tags...)
}

package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskboard/taskboard-backend/config"
	"github.com/taskboard/taskboard-backend/internal/storage/postgres"
)

// OpenDB connects to PostgreSQL and applies migrations when enabled.
func OpenDB(ctx context.Context, cfg *config.DatabaseConfig) (*postgres.DB, error) {
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := postgres.Migrate(ctx, db.SQL); err != nil {
			db.Close()
			return nil, err
		}
		log.Println("[db] migrations applied")
	}
	return db, nil
}

// OpenRedis returns nil when Redis is not configured.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

package queue

import (
	"context"
	"fmt"

	"formsync/internal/config"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a redis client from configuration. A nil return
// is valid everywhere in this package; the DB polling path covers for it.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Address == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Ping verifies the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

func queueKey(queue string) string {
	return "formsync:queue:" + queue
}

func deadLetterKey(queue string) string {
	return "formsync:deadletter:" + queue
}

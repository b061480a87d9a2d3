package db

import (
	"context" // Ping timeout
	"fmt"     // Error wrapping
	"time"    // Ping timeout

	"banking_system/internal/config" // Connection settings

	"github.com/redis/go-redis/v9" // Redis client
)

// OpenRedis connects to the configured Redis server. It returns a nil client when REDIS_ADDR is empty.
func OpenRedis(cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil // Redis disabled
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr, // Redis server address
		Password: cfg.RedisPass, // Redis password
		DB:       cfg.RedisDB,   // Redis database number
	})
	// Test Redis connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect: %w", err)
	}
	return client, nil
}

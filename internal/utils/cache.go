package utils

import (
	"context"       // Context for Redis operations
	"encoding/json" // JSON encoding/decoding
	"errors"        // Error inspection
	"fmt"           // Key formatting
	"time"          // Time durations

	"github.com/redis/go-redis/v9" // Redis client
)

// CacheTTL is how long read-side responses stay cached
const CacheTTL = 60 * time.Second

// Cache key prefixes
const (
	AdminCachePrefix = "admin:" // Every admin listing
	scanBatch        = 100      // Keys per SCAN round trip
)

// AccountsCacheKey is the cache key of a user's account list
func AccountsCacheKey(userID uint) string {
	return fmt.Sprintf("accounts:user:%d", userID)
}

// HistoryCachePrefix prefixes every cached history page of a user
func HistoryCachePrefix(userID uint) string {
	return fmt.Sprintf("txhistory:user:%d:", userID)
}

// GetCache retrieves a value from Redis and unmarshals it into dest. A nil client is a miss.
func GetCache(ctx context.Context, rdb *redis.Client, key string, dest any) (bool, error) {
	if rdb == nil {
		return false, nil // Caching disabled
	}
	val, err := rdb.Get(ctx, key).Result() // Get value from Redis
	if errors.Is(err, redis.Nil) {
		return false, nil // Key does not exist
	} else if err != nil {
		return false, err // Other Redis error
	}
	return true, json.Unmarshal([]byte(val), dest) // Unmarshal JSON into dest
}

// SetCache sets a value in Redis with a specified TTL
func SetCache(ctx context.Context, rdb *redis.Client, key string, value any, ttl time.Duration) error {
	if rdb == nil {
		return nil // Caching disabled
	}
	b, err := json.Marshal(value) // Marshal value to JSON
	if err != nil {
		return err // Return error if marshaling fails
	}
	return rdb.Set(ctx, key, b, ttl).Err() // Set value in Redis with TTL
}

// DeleteCache deletes keys from Redis
func DeleteCache(ctx context.Context, rdb *redis.Client, keys ...string) error {
	if rdb == nil || len(keys) == 0 {
		return nil // Nothing to delete
	}
	return rdb.Del(ctx, keys...).Err() // Delete keys from Redis
}

// DeleteCachePrefix deletes every key starting with prefix
func DeleteCachePrefix(ctx context.Context, rdb *redis.Client, prefix string) error {
	if rdb == nil {
		return nil // Caching disabled
	}
	iter := rdb.Scan(ctx, 0, prefix+"*", scanBatch).Iterator() // Walk matching keys without blocking Redis
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err // Scan failed midway
	}
	return DeleteCache(ctx, rdb, batch...) // Remaining keys
}

// InvalidateUsers drops the cached accounts, history pages and admin listings touched by a movement
func InvalidateUsers(ctx context.Context, rdb *redis.Client, userIDs ...uint) error {
	if rdb == nil {
		return nil
	}
	var errs []error
	for _, id := range userIDs {
		errs = append(errs,
			DeleteCache(ctx, rdb, AccountsCacheKey(id)),         // Account list and balances
			DeleteCachePrefix(ctx, rdb, HistoryCachePrefix(id)), // Every history page
		)
	}
	errs = append(errs, DeleteCachePrefix(ctx, rdb, AdminCachePrefix)) // Admin views list all users
	return errors.Join(errs...)
}

// UserInvalidator binds InvalidateUsers to a client for callers outside the HTTP layer
func UserInvalidator(rdb *redis.Client) func(ctx context.Context, userIDs ...uint) error {
	return func(ctx context.Context, userIDs ...uint) error {
		return InvalidateUsers(ctx, rdb, userIDs...)
	}
}

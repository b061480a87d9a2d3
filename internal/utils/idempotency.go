package utils

import (
	"context"       // Context for Redis operations
	"encoding/json" // Stored response encoding
	"errors"        // Sentinel errors
	"fmt"           // Key formatting
	"time"          // Record lifetime

	"github.com/google/uuid"       // Record ids
	"github.com/redis/go-redis/v9" // Redis client
)

// IdempotencyTTL is how long a stored response is replayed
const IdempotencyTTL = 24 * time.Hour

const pendingMarker = "pending" // Value held while the first request runs

// ErrRequestInFlight is returned when the same key is still being processed
var ErrRequestInFlight = errors.New("a request with this idempotency key is already in progress")

// StoredResponse is the first response recorded for an idempotency key
type StoredResponse struct {
	RecordID    string          `json:"record_id"`    // Unique id of this record
	Status      int             `json:"status"`       // HTTP status
	ContentType string          `json:"content_type"` // Response content type
	Body        json.RawMessage `json:"body"`         // Response body
	CreatedAt   time.Time       `json:"created_at"`   // When the response was stored
}

// IdempotencyStore keeps the first response per user and key in Redis
type IdempotencyStore struct {
	client redis.UniversalClient // Redis client, nil disables the store
	ttl    time.Duration         // Record lifetime
}

// NewIdempotencyStore creates an IdempotencyStore; a nil client disables it
func NewIdempotencyStore(client redis.UniversalClient) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: IdempotencyTTL}
}

// Enabled reports whether records are kept at all
func (s *IdempotencyStore) Enabled() bool {
	return s != nil && s.client != nil
}

// Begin claims key for userID. It returns (nil, nil) when the caller owns the key and must run the
// request, the stored response when one exists, or ErrRequestInFlight.
func (s *IdempotencyStore) Begin(ctx context.Context, userID uint, key string) (*StoredResponse, error) {
	k := s.key(userID, key)
	ok, err := s.client.SetNX(ctx, k, pendingMarker, s.ttl).Result() // Claim the key
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil // First request with this key
	}
	val, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return s.Begin(ctx, userID, key) // Expired between the two calls
	}
	if err != nil {
		return nil, err
	}
	if val == pendingMarker {
		return nil, ErrRequestInFlight
	}
	var stored StoredResponse
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		return nil, fmt.Errorf("idempotency record %s: %w", k, err)
	}
	return &stored, nil
}

// Complete stores the response for key
func (s *IdempotencyStore) Complete(ctx context.Context, userID uint, key string, status int, contentType string, body []byte) error {
	if !json.Valid(body) {
		body, _ = json.Marshal(string(body)) // Keep non-JSON bodies as a string
	}
	b, err := json.Marshal(StoredResponse{
		RecordID:    uuid.NewString(),
		Status:      status,
		ContentType: contentType,
		Body:        body,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(userID, key), b, s.ttl).Err()
}

// Release drops the claim so the request can be retried
func (s *IdempotencyStore) Release(ctx context.Context, userID uint, key string) error {
	return s.client.Del(ctx, s.key(userID, key)).Err()
}

func (s *IdempotencyStore) key(userID uint, key string) string {
	return fmt.Sprintf("idempotency:user:%d:%s", userID, key)
}

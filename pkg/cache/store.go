package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the store
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultStoreTTL is how long enrichment responses stay in Redis.
const DefaultStoreTTL = 15 * time.Minute

// StoredEntry is an enrichment response kept in Redis.
type StoredEntry struct {
	// Payload is nil when upstream reported no data for the key.
	Payload *Enrichment `json:"payload"`

	// CachedAt is when the response was stored.
	CachedAt time.Time `json:"cached_at"`
}

// RedisStore keeps enrichment responses in Redis with a fixed TTL.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a store on the given Redis client.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultStoreTTL
	}
	return &RedisStore{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Get retrieves the stored response for key.
// Returns ErrCacheMiss if nothing is stored.
func (s *RedisStore) Get(ctx context.Context, key Key) (*StoredEntry, error) {
	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			StoreMisses.Inc()
			return nil, ErrCacheMiss
		}
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry StoredEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	StoreHits.Inc()
	return &entry, nil
}

// Set stores a response for key. A nil payload records "not found".
func (s *RedisStore) Set(ctx context.Context, key Key, payload *Enrichment) error {
	data, err := json.Marshal(StoredEntry{Payload: payload, CachedAt: time.Now()})
	if err != nil {
		StoreErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal stored entry: %w", err)
	}

	if err := s.redis.Set(ctx, key.String(), data, s.ttl).Err(); err != nil {
		StoreErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a stored response.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.redis.Del(ctx, key.String()).Err(); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// TTL returns the expiry applied to stored responses.
func (s *RedisStore) TTL() time.Duration {
	return s.ttl
}

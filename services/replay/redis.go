package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a replay store backed by Redis. SET NX with a TTL is a single
// atomic round-trip, which gives the required check-and-set semantics across
// gateway replicas (key: replay:{jti}).
type RedisStore struct {
	client *redis.Client
	keyFmt string
}

// NewRedisStore creates a new Redis-backed replay store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, keyFmt: "replay:%s"}
}

func (s *RedisStore) key(jti string) string {
	return fmt.Sprintf(s.keyFmt, jti)
}

// Consume implements Store
func (s *RedisStore) Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(jti), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay store unavailable: %w", err)
	}
	return ok, nil
}

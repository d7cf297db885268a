package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis failures.
var ErrRedisUnavailable = errors.New("session cache redis unavailable")

// Cache is a Redis-backed session projection cache.
//
//	Performance: 1 Redis command per call.
type Cache struct {
	redis  redis.UniversalClient
	prefix string
}

// NewCache creates a [Cache]. prefix defaults to "asc".
func NewCache(redisClient redis.UniversalClient, prefix string) *Cache {
	if prefix == "" {
		prefix = "asc"
	}
	return &Cache{
		redis:  redisClient,
		prefix: prefix,
	}
}

// TokenKey returns the hex SHA-256 digest used in place of the access token.
func TokenKey(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) key(accessToken string) string {
	return c.prefix + ":" + TokenKey(accessToken)
}

// Put stores s for accessToken for ttl.
func (c *Cache) Put(ctx context.Context, accessToken string, s *Snapshot, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("session cache ttl must be > 0")
	}

	data, err := Encode(s)
	if err != nil {
		return err
	}

	if err := c.redis.Set(ctx, c.key(accessToken), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the snapshot for accessToken. A missing entry is (nil, false,
// nil). An undecodable entry is dropped and also reported as a miss.
func (c *Cache) Get(ctx context.Context, accessToken string) (*Snapshot, bool, error) {
	key := c.key(accessToken)

	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	s, err := Decode(data)
	if err != nil {
		if delErr := c.redis.Del(ctx, key).Err(); delErr != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, delErr)
		}
		return nil, false, nil
	}
	return s, true, nil
}

// Invalidate removes the entry for accessToken. Removing a missing entry is
// not an error.
func (c *Cache) Invalidate(ctx context.Context, accessToken string) error {
	if err := c.redis.Del(ctx, c.key(accessToken)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

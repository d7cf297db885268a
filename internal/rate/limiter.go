package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "arl"

const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var fixedWindowLua = redis.NewScript(fixedWindowScript)

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed   bool
	Count     int64
	Remaining int
	ResetIn   time.Duration
}

// Limiter counts hits per scope in fixed windows using Redis.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a [Limiter] backed by the given Redis client. An empty prefix
// falls back to "arl".
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (l *Limiter) key(scope string) string {
	return l.prefix + ":" + scope
}

// Check records one hit for scope and reports whether the caller is still
// within max hits for the current window.
func (l *Limiter) Check(ctx context.Context, scope string, max int, window time.Duration) (Decision, error) {
	if max <= 0 || window <= 0 {
		return Decision{}, ErrInvalidPolicy
	}
	windowMS := window.Milliseconds()
	if windowMS <= 0 {
		windowMS = 1
	}

	raw, err := fixedWindowLua.Run(ctx, l.redis, []string{l.key(scope)}, windowMS).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(raw) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}

	count, ok := raw[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("%w: unexpected count type %T", ErrRedisUnavailable, raw[0])
	}
	ttlMS, ok := raw[1].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("%w: unexpected ttl type %T", ErrRedisUnavailable, raw[1])
	}

	remaining := int64(max) - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= int64(max),
		Count:     count,
		Remaining: int(remaining),
		ResetIn:   time.Duration(ttlMS) * time.Millisecond,
	}, nil
}

// Peek reports the state of scope under a max-hit policy without recording
// a hit. An idle scope is allowed with the full budget and no reset time.
func (l *Limiter) Peek(ctx context.Context, scope string, max int) (Decision, error) {
	if max <= 0 {
		return Decision{}, ErrInvalidPolicy
	}

	key := l.key(scope)
	var (
		countCmd *redis.StringCmd
		ttlCmd   *redis.DurationCmd
	)
	_, err := l.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		countCmd = pipe.Get(ctx, key)
		ttlCmd = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	count, err := countCmd.Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Decision{Allowed: true, Remaining: max}, nil
		}
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		count = 0
	}

	// PTTL answers -1 or -2 as a negative duration; treat both as no reset.
	resetIn := ttlCmd.Val()
	if resetIn < 0 {
		resetIn = 0
	}

	remaining := int64(max) - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count < int64(max),
		Count:     count,
		Remaining: int(remaining),
		ResetIn:   resetIn,
	}, nil
}

package stores

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrResetNotFound         = errors.New("reset record not found")
	ErrResetExpired          = errors.New("reset record expired")
	ErrResetUsed             = errors.New("reset record already used")
	ErrResetSecretMismatch   = errors.New("reset secret mismatch")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

const (
	resetStatusNotFound int64 = 0
	resetStatusMismatch int64 = 1
	resetStatusUsed     int64 = 2
	resetStatusExpired  int64 = 3
	resetStatusConsumed int64 = 4
)

// The secret is compared before the used flag so a wrong guess never learns
// whether the record was already redeemed. Both sides of the ~= are SHA-256
// hex digests of the secret, so an early-exit compare leaks no secret bytes.
const consumeResetScript = `
local fields = redis.call("HMGET", KEYS[1], "user_id", "secret_hash", "expires_at", "used")
if not fields[2] then
  return {0, "", 0}
end
local expires_at = tonumber(fields[3]) or 0
if fields[2] ~= ARGV[1] then
  return {1, "", expires_at}
end
if fields[4] == "1" then
  return {2, "", expires_at}
end
if tonumber(ARGV[2]) >= expires_at then
  return {3, "", expires_at}
end
redis.call("HSET", KEYS[1], "used", "1", "used_at", ARGV[2])
return {4, fields[1], expires_at}
`

var consumeResetLua = redis.NewScript(consumeResetScript)

// PasswordResetRecord is the stored side of a reset challenge. Times are unix
// seconds.
type PasswordResetRecord struct {
	UserID     string
	SecretHash [32]byte
	ExpiresAt  int64
	Used       bool
	UsedAt     int64
}

// PasswordResetStore persists single-use reset records. A used record is kept
// until its key expires so replays are reported as used rather than unknown.
type PasswordResetStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewPasswordResetStore creates a reset store. prefix defaults to "apr".
func NewPasswordResetStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *PasswordResetStore {
	if prefix == "" {
		prefix = "apr"
	}
	if retention < 0 {
		retention = 0
	}
	return &PasswordResetStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *PasswordResetStore) key(resetID string) string {
	return s.prefix + ":" + resetID
}

// Save writes record under resetID. The key lives for ttl plus retention.
func (s *PasswordResetStore) Save(ctx context.Context, resetID string, record *PasswordResetRecord, ttl time.Duration) error {
	if record == nil {
		return errors.New("reset record is required")
	}
	if record.UserID == "" {
		return errors.New("reset record requires a user id")
	}
	if ttl <= 0 {
		return errors.New("reset ttl must be > 0")
	}

	used := "0"
	if record.Used {
		used = "1"
	}

	key := s.key(resetID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"user_id", record.UserID,
			"secret_hash", hex.EncodeToString(record.SecretHash[:]),
			"expires_at", record.ExpiresAt,
			"used", used,
			"used_at", record.UsedAt,
		)
		pipe.PExpire(ctx, key, ttl+s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return nil
}

// Consume marks the record used if the secret matches and it is neither used
// nor expired. The check and the flip run in one script.
func (s *PasswordResetStore) Consume(
	ctx context.Context,
	resetID string,
	providedHash [32]byte,
	now time.Time,
) (*PasswordResetRecord, error) {
	raw, err := consumeResetLua.Run(ctx, s.redis, []string{s.key(resetID)},
		hex.EncodeToString(providedHash[:]), now.Unix()).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("%w: unexpected script reply", ErrResetRedisUnavailable)
	}

	status, _ := raw[0].(int64)
	userID, _ := raw[1].(string)
	expiresAt, _ := raw[2].(int64)

	switch status {
	case resetStatusConsumed:
		return &PasswordResetRecord{
			UserID:     userID,
			SecretHash: providedHash,
			ExpiresAt:  expiresAt,
			Used:       true,
			UsedAt:     now.Unix(),
		}, nil
	case resetStatusMismatch:
		return nil, ErrResetSecretMismatch
	case resetStatusUsed:
		return nil, ErrResetUsed
	case resetStatusExpired:
		return nil, ErrResetExpired
	default:
		return nil, ErrResetNotFound
	}
}

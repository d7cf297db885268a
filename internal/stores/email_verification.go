package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrVerificationNotFound         = errors.New("verification record not found")
	ErrVerificationExpired          = errors.New("verification record expired")
	ErrVerificationUsed             = errors.New("verification record already used")
	ErrVerificationSecretMismatch   = errors.New("verification secret mismatch")
	ErrVerificationRedisUnavailable = errors.New("verification redis unavailable")
)

const (
	verifyStatusNotFound int64 = 0
	verifyStatusMismatch int64 = 1
	verifyStatusUsed     int64 = 2
	verifyStatusExpired  int64 = 3
	verifyStatusConsumed int64 = 4
)

// Same check order as the reset script. secret_hash and ARGV[1] are SHA-256
// hex digests, so the ~= compare leaks nothing about the link secret.
const consumeVerificationScript = `
local fields = redis.call("HMGET", KEYS[1], "user_id", "email", "secret_hash", "expires_at", "used")
if not fields[3] then
  return {0, "", "", 0}
end
local expires_at = tonumber(fields[4]) or 0
if fields[3] ~= ARGV[1] then
  return {1, "", "", expires_at}
end
if fields[5] == "1" then
  return {2, "", "", expires_at}
end
if tonumber(ARGV[2]) >= expires_at then
  return {3, "", "", expires_at}
end
redis.call("HSET", KEYS[1], "used", "1", "used_at", ARGV[2])
return {4, fields[1], fields[2] or "", expires_at}
`

var consumeVerificationLua = redis.NewScript(consumeVerificationScript)

// EmailVerificationRecord is the stored side of a verification link. Only
// the digest of the link secret is kept. Times are unix seconds.
type EmailVerificationRecord struct {
	UserID     string
	Email      string
	SecretHash [32]byte
	ExpiresAt  int64
	Used       bool
	UsedAt     int64
}

// EmailVerificationStore keeps single-use verification records and a short
// lived "verified" marker per address.
type EmailVerificationStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewEmailVerificationStore creates a verification store. prefix defaults
// to "aev".
func NewEmailVerificationStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *EmailVerificationStore {
	if prefix == "" {
		prefix = "aev"
	}
	if retention < 0 {
		retention = 0
	}
	return &EmailVerificationStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *EmailVerificationStore) key(verificationID string) string {
	return s.prefix + ":" + verificationID
}

// statusKey never holds the address in clear.
func (s *EmailVerificationStore) statusKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return s.prefix + ":verified:" + hex.EncodeToString(sum[:])
}

// Save writes record under verificationID for ttl plus retention.
func (s *EmailVerificationStore) Save(ctx context.Context, verificationID string, record *EmailVerificationRecord, ttl time.Duration) error {
	if record == nil {
		return errors.New("verification record is required")
	}
	if record.UserID == "" || record.Email == "" {
		return errors.New("verification record requires a user id and email")
	}
	if ttl <= 0 {
		return errors.New("verification ttl must be > 0")
	}

	key := s.key(verificationID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"user_id", record.UserID,
			"email", record.Email,
			"secret_hash", hex.EncodeToString(record.SecretHash[:]),
			"expires_at", record.ExpiresAt,
			"used", "0",
			"used_at", 0,
		)
		pipe.PExpire(ctx, key, ttl+s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}
	return nil
}

// Consume marks the record used when the secret matches and the record is
// neither used nor expired.
func (s *EmailVerificationStore) Consume(
	ctx context.Context,
	verificationID string,
	providedHash [32]byte,
	now time.Time,
) (*EmailVerificationRecord, error) {
	raw, err := consumeVerificationLua.Run(ctx, s.redis, []string{s.key(verificationID)},
		hex.EncodeToString(providedHash[:]), now.Unix()).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}
	if len(raw) != 4 {
		return nil, fmt.Errorf("%w: unexpected script reply", ErrVerificationRedisUnavailable)
	}

	status, _ := raw[0].(int64)
	userID, _ := raw[1].(string)
	email, _ := raw[2].(string)
	expiresAt, _ := raw[3].(int64)

	switch status {
	case verifyStatusConsumed:
		return &EmailVerificationRecord{
			UserID:     userID,
			Email:      email,
			SecretHash: providedHash,
			ExpiresAt:  expiresAt,
			Used:       true,
			UsedAt:     now.Unix(),
		}, nil
	case verifyStatusMismatch:
		return nil, ErrVerificationSecretMismatch
	case verifyStatusUsed:
		return nil, ErrVerificationUsed
	case verifyStatusExpired:
		return nil, ErrVerificationExpired
	default:
		return nil, ErrVerificationNotFound
	}
}

// MarkVerified records that email was confirmed. The marker expires after
// ttl.
func (s *EmailVerificationStore) MarkVerified(ctx context.Context, email string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("verified marker ttl must be > 0")
	}
	if err := s.redis.Set(ctx, s.statusKey(email), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}
	return nil
}

// Verified reports whether a live marker exists for email.
func (s *EmailVerificationStore) Verified(ctx context.Context, email string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.statusKey(email)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}
	return n == 1, nil
}

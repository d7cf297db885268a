package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrOTPNotFound         = errors.New("otp challenge not found")
	ErrOTPExpired          = errors.New("otp challenge expired")
	ErrOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	ErrOTPMismatch         = errors.New("otp code mismatch")
	ErrOTPRedisUnavailable = errors.New("otp redis unavailable")
)

const (
	otpStatusNotFound int64 = 0
	otpStatusExpired  int64 = 1
	otpStatusExceeded int64 = 2
	otpStatusMismatch int64 = 3
	otpStatusVerified int64 = 4
)

// Verify is a single read-modify-write: the attempt cap is checked before the
// code is compared, and a mismatch increments attempts in the same script so
// parallel guesses cannot all observe attempts < max. The plain ~= compares
// two SHA-256 hex digests, never the code itself, so its timing says nothing
// about the code.
const verifyOTPScript = `
local fields = redis.call("HMGET", KEYS[1], "code_hash", "attempts", "max_attempts", "expires_at", "verified")
if not fields[1] then
  return {0, 0, 0}
end
if fields[5] == "1" then
  return {0, 0, 0}
end

local attempts = tonumber(fields[2]) or 0
local max_attempts = tonumber(fields[3]) or 0
local expires_at = tonumber(fields[4]) or 0
local now_ms = tonumber(ARGV[2])

if expires_at <= now_ms then
  return {1, attempts, max_attempts}
end
if attempts >= max_attempts then
  return {2, attempts, max_attempts}
end
if fields[1] ~= ARGV[1] then
  attempts = redis.call("HINCRBY", KEYS[1], "attempts", 1)
  return {3, attempts, max_attempts}
end

redis.call("HSET", KEYS[1], "verified", "1", "verified_at", ARGV[2])
return {4, attempts, max_attempts}
`

var verifyOTPLua = redis.NewScript(verifyOTPScript)

// OTPChallenge is the persisted state of one OTP challenge. Only the hash of
// the code is kept.
type OTPChallenge struct {
	Identifier  string
	Purpose     string
	CodeHash    string
	Attempts    int
	MaxAttempts int
	ExpiresAt   time.Time
	Verified    bool
	VerifiedAt  time.Time
}

// OTPVerifyResult reports attempt accounting for a verify call.
type OTPVerifyResult struct {
	Attempts    int
	MaxAttempts int
}

// Remaining is the number of verify calls left before the cap.
func (r OTPVerifyResult) Remaining() int {
	left := r.MaxAttempts - r.Attempts
	if left < 0 {
		return 0
	}
	return left
}

// OTPStore keeps at most one challenge per (identifier, purpose). The key is
// derived from the pair, so saving a new challenge supersedes the old one.
type OTPStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewOTPStore creates an OTP store. retention keeps an expired challenge
// around long enough to report Expired rather than NotFound.
func NewOTPStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *OTPStore {
	if prefix == "" {
		prefix = "aotp"
	}
	if retention < 0 {
		retention = 0
	}
	return &OTPStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *OTPStore) key(identifier, purpose string) string {
	return s.prefix + ":" + purpose + ":" + identifier
}

// Save replaces any existing challenge for the pair in one MULTI block.
func (s *OTPStore) Save(ctx context.Context, challenge *OTPChallenge, now time.Time) error {
	if challenge == nil {
		return errors.New("otp challenge is required")
	}
	ttl := challenge.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return errors.New("otp challenge already expired")
	}

	key := s.key(challenge.Identifier, challenge.Purpose)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"identifier", challenge.Identifier,
			"purpose", challenge.Purpose,
			"code_hash", challenge.CodeHash,
			"attempts", challenge.Attempts,
			"max_attempts", challenge.MaxAttempts,
			"expires_at", challenge.ExpiresAt.UnixMilli(),
			"verified", "0",
			"verified_at", 0,
		)
		pipe.PExpire(ctx, key, ttl+s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return nil
}

// Verify atomically checks and consumes the challenge for the pair.
func (s *OTPStore) Verify(ctx context.Context, identifier, purpose, codeHash string, now time.Time) (OTPVerifyResult, error) {
	raw, err := verifyOTPLua.Run(ctx, s.redis, []string{s.key(identifier, purpose)}, codeHash, now.UnixMilli()).Slice()
	if err != nil {
		return OTPVerifyResult{}, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	if len(raw) != 3 {
		return OTPVerifyResult{}, fmt.Errorf("%w: unexpected script reply", ErrOTPRedisUnavailable)
	}

	status, _ := raw[0].(int64)
	attempts, _ := raw[1].(int64)
	maxAttempts, _ := raw[2].(int64)
	result := OTPVerifyResult{Attempts: int(attempts), MaxAttempts: int(maxAttempts)}

	switch status {
	case otpStatusVerified:
		return result, nil
	case otpStatusMismatch:
		return result, ErrOTPMismatch
	case otpStatusExceeded:
		return result, ErrOTPAttemptsExceeded
	case otpStatusExpired:
		return result, ErrOTPExpired
	default:
		return result, ErrOTPNotFound
	}
}

// Get loads the stored challenge, including consumed and expired ones that
// are still retained.
func (s *OTPStore) Get(ctx context.Context, identifier, purpose string) (*OTPChallenge, error) {
	values, err := s.redis.HGetAll(ctx, s.key(identifier, purpose)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	if len(values) == 0 {
		return nil, ErrOTPNotFound
	}

	challenge := &OTPChallenge{
		Identifier: values["identifier"],
		Purpose:    values["purpose"],
		CodeHash:   values["code_hash"],
		Verified:   values["verified"] == "1",
	}
	challenge.Attempts, _ = strconv.Atoi(values["attempts"])
	challenge.MaxAttempts, _ = strconv.Atoi(values["max_attempts"])
	if ms, err := strconv.ParseInt(values["expires_at"], 10, 64); err == nil {
		challenge.ExpiresAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(values["verified_at"], 10, 64); err == nil && ms > 0 {
		challenge.VerifiedAt = time.UnixMilli(ms)
	}
	return challenge, nil
}

package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const insertRecordScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "token_hash", ARGV[2],
  "family_id", ARGV[3],
  "owner_id", ARGV[4],
  "issued_at", ARGV[5],
  "expires_at", ARGV[6],
  "last_used_at", ARGV[7],
  "revoked", ARGV[8],
  "revoked_at", ARGV[9],
  "revoked_reason", ARGV[10],
  "device_info", ARGV[11],
  "ip_address", ARGV[12],
  "user_agent", ARGV[13])
local ttl = tonumber(ARGV[1])
redis.call("PEXPIRE", KEYS[1], ttl)
for i = 2, 3 do
  redis.call("SADD", KEYS[i], ARGV[2])
  if redis.call("PTTL", KEYS[i]) < ttl then
    redis.call("PEXPIRE", KEYS[i], ttl)
  end
end
return 1
`

var insertRecordLua = redis.NewScript(insertRecordScript)

// The compare and the write happen in one script, so concurrent callers on
// the same record see exactly one status 1.
const revokeIfActiveScript = `
local revoked = redis.call("HGET", KEYS[1], "revoked")
if revoked ~= "0" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[1], "revoked_reason", ARGV[2])
if ARGV[3] == "1" then
  redis.call("HSET", KEYS[1], "last_used_at", ARGV[1])
end
return 1
`

var revokeIfActiveLua = redis.NewScript(revokeIfActiveScript)

// Members whose record key has expired are pruned from the index as a side
// effect.
const revokeIndexScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local changed = 0
for _, hash in ipairs(members) do
  local key = ARGV[1] .. ":" .. hash
  local revoked = redis.call("HGET", key, "revoked")
  if not revoked then
    redis.call("SREM", KEYS[1], hash)
  elseif revoked == "0" then
    redis.call("HSET", key, "revoked", "1", "revoked_at", ARGV[2], "revoked_reason", ARGV[3])
    changed = changed + 1
  end
end
return changed
`

var revokeIndexLua = redis.NewScript(revokeIndexScript)

const purgeRecordScript = `
local fields = redis.call("HMGET", KEYS[1], "expires_at", "family_id", "owner_id", "token_hash")
if not fields[1] then
  return 0
end
if tonumber(fields[1]) >= tonumber(ARGV[1]) then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[2] .. ":" .. fields[2], fields[4])
redis.call("SREM", ARGV[3] .. ":" .. fields[3], fields[4])
return 1
`

var purgeRecordLua = redis.NewScript(purgeRecordScript)

// RedisStore keeps each record in a hash keyed by token hash, plus one set per
// family and one per owner for bulk revocation. Record keys expire retention
// after the token itself does.
//
// The bulk revocation scripts derive record keys from index members, so all
// keys of one store must live on the same Redis node.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a Redis-backed [Store]. prefix namespaces record
// keys and defaults to "art".
func NewRedisStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "art"
	}
	if retention < 0 {
		retention = 0
	}
	return &RedisStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + ":" + tokenHash
}

func (s *RedisStore) familyKey(familyID string) string {
	return familyKeyPrefix + ":" + familyID
}

func (s *RedisStore) ownerKey(ownerID string) string {
	return ownerKeyPrefix + ":" + ownerID
}

const (
	familyKeyPrefix = "arf"
	ownerKeyPrefix  = "aro"
)

// Insert stores a new record. It returns [ErrDuplicate] if the hash exists.
func (s *RedisStore) Insert(ctx context.Context, record *Record) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	ttl := record.ExpiresAt.Sub(record.IssuedAt) + s.retention
	revoked := "0"
	if record.Revoked {
		revoked = "1"
	}

	res, err := insertRecordLua.Run(ctx, s.redis,
		[]string{s.key(record.TokenHash), s.familyKey(record.FamilyID), s.ownerKey(record.OwnerID)},
		ttl.Milliseconds(),
		record.TokenHash,
		record.FamilyID,
		record.OwnerID,
		toMillis(record.IssuedAt),
		toMillis(record.ExpiresAt),
		toMillis(record.LastUsedAt),
		revoked,
		toMillis(record.RevokedAt),
		string(record.RevokedReason),
		record.DeviceInfo,
		record.IPAddress,
		record.UserAgent,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if res == 0 {
		return ErrDuplicate
	}
	return nil
}

// FindByHash loads a record, revoked or not.
func (s *RedisStore) FindByHash(ctx context.Context, tokenHash string) (*Record, error) {
	values, err := s.redis.HGetAll(ctx, s.key(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(values) == 0 {
		return nil, ErrNotFound
	}
	return recordFromHash(values), nil
}

// RevokeIfActive implements [Store].
func (s *RedisStore) RevokeIfActive(ctx context.Context, tokenHash string, reason RevokeReason, now time.Time) (bool, error) {
	touch := "0"
	if reason == ReasonRotated {
		touch = "1"
	}

	changed, err := revokeIfActiveLua.Run(ctx, s.redis, []string{s.key(tokenHash)}, now.UnixMilli(), string(reason), touch).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return changed == 1, nil
}

// RevokeFamily implements [Store].
func (s *RedisStore) RevokeFamily(ctx context.Context, familyID string, reason RevokeReason, now time.Time) (int, error) {
	return s.revokeIndex(ctx, s.familyKey(familyID), reason, now)
}

// RevokeOwner implements [Store].
func (s *RedisStore) RevokeOwner(ctx context.Context, ownerID string, reason RevokeReason, now time.Time) (int, error) {
	return s.revokeIndex(ctx, s.ownerKey(ownerID), reason, now)
}

func (s *RedisStore) revokeIndex(ctx context.Context, indexKey string, reason RevokeReason, now time.Time) (int, error) {
	changed, err := revokeIndexLua.Run(ctx, s.redis, []string{indexKey}, s.prefix, now.UnixMilli(), string(reason)).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(changed), nil
}

// ListFamily returns the retained records of a family ordered by issue time.
func (s *RedisStore) ListFamily(ctx context.Context, familyID string) ([]*Record, error) {
	hashes, err := s.redis.SMembers(ctx, s.familyKey(familyID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Record{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(hashes) == 0 {
		return []*Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(hashes))
	for i, hash := range hashes {
		cmds[i] = pipe.HGetAll(ctx, s.key(hash))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	records := make([]*Record, 0, len(cmds))
	for _, cmd := range cmds {
		values, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if len(values) == 0 {
			continue
		}
		records = append(records, recordFromHash(values))
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].IssuedAt.Before(records[j].IssuedAt)
	})
	return records, nil
}

// PurgeExpired scans record keys and deletes those that expired before the
// cutoff. Keys also expire on their own, so this only shortens retention.
func (s *RedisStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	var (
		cursor uint64
		purged int
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+":*", 256).Result()
		if err != nil {
			return purged, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		for _, key := range keys {
			n, err := purgeRecordLua.Run(ctx, s.redis, []string{key}, before.UnixMilli(), familyKeyPrefix, ownerKeyPrefix).Int64()
			if err != nil {
				return purged, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			purged += int(n)
		}
		cursor = next
		if cursor == 0 {
			return purged, nil
		}
	}
}

func validateRecord(record *Record) error {
	if record == nil {
		return errors.New("refresh record is required")
	}
	if record.TokenHash == "" || record.FamilyID == "" || record.OwnerID == "" {
		return errors.New("refresh record requires token hash, family id and owner id")
	}
	if !record.ExpiresAt.After(record.IssuedAt) {
		return errors.New("refresh record expires before it is issued")
	}
	return nil
}

func recordFromHash(values map[string]string) *Record {
	return &Record{
		TokenHash:     values["token_hash"],
		FamilyID:      values["family_id"],
		OwnerID:       values["owner_id"],
		IssuedAt:      fromMillis(values["issued_at"]),
		ExpiresAt:     fromMillis(values["expires_at"]),
		LastUsedAt:    fromMillis(values["last_used_at"]),
		Revoked:       values["revoked"] == "1",
		RevokedAt:     fromMillis(values["revoked_at"]),
		RevokedReason: RevokeReason(values["revoked_reason"]),
		DeviceInfo:    values["device_info"],
		IPAddress:     values["ip_address"],
		UserAgent:     values["user_agent"],
	}
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned when Redis cannot serve a request.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionNotFound is returned when a rotation target no longer exists.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExpired is returned when a rotation target exists but its
// recorded expiry has passed.
var ErrSessionExpired = errors.New("session expired")

// ErrSessionMismatch is returned when a stored record belongs to a different
// subject than the caller claims.
var ErrSessionMismatch = errors.New("session subject mismatch")

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
)

// Fields of a reply record, in order: digest, sub, jti, iat, exp.
const replyRecordWidth = 5

const putSessionScript = `
local primary = KEYS[1]
local index = KEYS[2]
local seq_key = KEYS[3]
local digest = ARGV[1]
local ttl_ms = tonumber(ARGV[6])
local max_sessions = tonumber(ARGV[7])
local record_prefix = ARGV[8]

local members = redis.call("ZRANGE", index, 0, -1)
for _, member in ipairs(members) do
  if redis.call("EXISTS", record_prefix .. member) == 0 then
    redis.call("ZREM", index, member)
  end
end

redis.call("HSET", primary, "sub", ARGV[2], "jti", ARGV[3], "iat", ARGV[4], "exp", ARGV[5])
redis.call("PEXPIRE", primary, ttl_ms)
local seq = redis.call("INCR", seq_key)
redis.call("ZADD", index, seq, digest)

local evicted = {}
if max_sessions > 0 then
  while redis.call("ZCARD", index) > max_sessions do
    local oldest = redis.call("ZRANGE", index, 0, 0)
    local member = oldest[1]
    if not member then
      break
    end
    redis.call("ZREM", index, member)
    local key = record_prefix .. member
    local fields = redis.call("HMGET", key, "sub", "jti", "iat", "exp")
    if redis.call("DEL", key) == 1 then
      table.insert(evicted, member)
      table.insert(evicted, fields[1] or "")
      table.insert(evicted, fields[2] or "")
      table.insert(evicted, fields[3] or "")
      table.insert(evicted, fields[4] or "")
    end
  end
end

if redis.call("PTTL", index) < ttl_ms then
  redis.call("PEXPIRE", index, ttl_ms)
  redis.call("PEXPIRE", seq_key, ttl_ms)
end
return evicted
`

var putSessionLua = redis.NewScript(putSessionScript)

const rotateSessionScript = `
local old_key = KEYS[1]
local new_key = KEYS[2]
local index = KEYS[3]
local seq_key = KEYS[4]
local old_digest = ARGV[1]
local new_digest = ARGV[2]
local subject = ARGV[3]
local ttl_ms = tonumber(ARGV[7])
local now_ms = tonumber(ARGV[8])

local fields = redis.call("HMGET", old_key, "sub", "exp")
local owner = fields[1]
if not owner then
  redis.call("ZREM", index, old_digest)
  return 0
end
if owner ~= subject then
  return 2
end

redis.call("DEL", old_key)
redis.call("ZREM", index, old_digest)
if tonumber(fields[2] or "0") <= now_ms then
  return 1
end

redis.call("HSET", new_key, "sub", subject, "jti", ARGV[4], "iat", ARGV[5], "exp", ARGV[6])
redis.call("PEXPIRE", new_key, ttl_ms)
local seq = redis.call("INCR", seq_key)
redis.call("ZADD", index, seq, new_digest)
if redis.call("PTTL", index) < ttl_ms then
  redis.call("PEXPIRE", index, ttl_ms)
  redis.call("PEXPIRE", seq_key, ttl_ms)
end
return 3
`

var rotateSessionLua = redis.NewScript(rotateSessionScript)

const deleteSessionScript = `
local fields = redis.call("HMGET", KEYS[1], "sub", "jti", "iat", "exp")
if not fields[1] then
  return {}
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", ARGV[2] .. fields[1], ARGV[1])
return {ARGV[1], fields[1], fields[2] or "", fields[3] or "", fields[4] or ""}
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

const deleteAllScript = `
local members = redis.call("ZRANGE", KEYS[1], 0, -1)
local removed = {}
for _, member in ipairs(members) do
  local key = ARGV[1] .. member
  local fields = redis.call("HMGET", key, "sub", "jti", "iat", "exp")
  if redis.call("DEL", key) == 1 then
    table.insert(removed, member)
    table.insert(removed, fields[1] or "")
    table.insert(removed, fields[2] or "")
    table.insert(removed, fields[3] or "")
    table.insert(removed, fields[4] or "")
  end
end
redis.call("DEL", KEYS[1], KEYS[2])
return removed
`

var deleteAllLua = redis.NewScript(deleteAllScript)

// Store persists refresh-token sessions in Redis.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore returns a Store that namespaces every key under prefix.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "gg"
	}
	return &Store{
		redis:  client,
		prefix: prefix,
	}
}

func (s *Store) recordPrefix() string {
	return s.prefix + ":rt:"
}

func (s *Store) indexPrefix() string {
	return s.prefix + ":ru:"
}

func (s *Store) key(digest string) string {
	return s.recordPrefix() + digest
}

func (s *Store) indexKey(subject string) string {
	return s.indexPrefix() + subject
}

func (s *Store) seqKey(subject string) string {
	return s.prefix + ":rs:" + subject
}

// Put stores the session for token and evicts the oldest sessions of the same
// subject while more than maxSessions remain. A maxSessions of zero disables
// the cap. Evicted records are returned oldest first.
func (s *Store) Put(ctx context.Context, token string, rec Record, ttl time.Duration, maxSessions int) ([]Record, error) {
	if rec.Subject == "" || rec.TokenID == "" {
		return nil, errors.New("session record requires subject and token id")
	}
	if ttl <= 0 {
		return nil, errors.New("invalid session ttl")
	}
	digest := Digest(token)

	res, err := putSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(digest), s.indexKey(rec.Subject), s.seqKey(rec.Subject)},
		digest,
		rec.Subject,
		rec.TokenID,
		rec.IssuedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		ttl.Milliseconds(),
		maxSessions,
		s.recordPrefix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return decodeRecords(res)
}

// Rotate atomically replaces the session of oldToken with one for newToken.
// It returns ErrSessionNotFound when the old session is absent, which is the
// outcome every loser of a concurrent rotation observes.
func (s *Store) Rotate(ctx context.Context, oldToken, newToken string, next Record, ttl time.Duration, now time.Time) error {
	if next.Subject == "" || next.TokenID == "" {
		return errors.New("session record requires subject and token id")
	}
	if ttl <= 0 {
		return errors.New("invalid session ttl")
	}
	oldDigest := Digest(oldToken)
	newDigest := Digest(newToken)

	status, err := rotateSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(oldDigest), s.key(newDigest), s.indexKey(next.Subject), s.seqKey(next.Subject)},
		oldDigest,
		newDigest,
		next.Subject,
		next.TokenID,
		next.IssuedAt.UnixMilli(),
		next.ExpiresAt.UnixMilli(),
		ttl.Milliseconds(),
		now.UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch status {
	case rotateStatusRotated:
		return nil
	case rotateStatusExpired:
		return ErrSessionExpired
	case rotateStatusMismatch:
		return ErrSessionMismatch
	case rotateStatusNotFound:
		return ErrSessionNotFound
	default:
		return fmt.Errorf("unexpected rotate status %d", status)
	}
}

// Exists reports whether a live session is stored for token.
func (s *Store) Exists(ctx context.Context, token string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(Digest(token))).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// Delete removes the session for token and returns the removed record, or nil
// when nothing was stored. Deleting twice is safe.
func (s *Store) Delete(ctx context.Context, token string) (*Record, error) {
	digest := Digest(token)
	res, err := deleteSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(digest)},
		digest,
		s.indexPrefix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	records, err := decodeRecords(res)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// DeleteAllForSubject removes every session of subject in one step and
// returns the removed records.
func (s *Store) DeleteAllForSubject(ctx context.Context, subject string) ([]Record, error) {
	res, err := deleteAllLua.Run(
		ctx,
		s.redis,
		[]string{s.indexKey(subject), s.seqKey(subject)},
		s.recordPrefix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeRecords(res)
}

// Sessions lists the live sessions of subject, oldest first.
func (s *Store) Sessions(ctx context.Context, subject string) ([]Record, error) {
	digests, err := s.redis.ZRange(ctx, s.indexKey(subject), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(digests) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.SliceCmd, len(digests))
	for i, digest := range digests {
		cmds[i] = pipe.HMGet(ctx, s.key(digest), "sub", "jti", "iat", "exp")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]Record, 0, len(digests))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		rec, err := recordFromFields(digests[i], vals)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// Count returns the number of live sessions of subject.
func (s *Store) Count(ctx context.Context, subject string) (int, error) {
	records, err := s.Sessions(ctx, subject)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Ping measures a Redis round trip.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func recordFromFields(digest string, vals []interface{}) (*Record, error) {
	if len(vals) != 4 || vals[0] == nil {
		return nil, nil
	}
	fields := make([]string, 4)
	for i, v := range vals {
		if str, ok := v.(string); ok {
			fields[i] = str
		}
	}
	return buildRecord(digest, fields[0], fields[1], fields[2], fields[3])
}

func decodeRecords(res interface{}) ([]Record, error) {
	items, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected session reply type %T", res)
	}
	if len(items)%replyRecordWidth != 0 {
		return nil, fmt.Errorf("unexpected session reply length %d", len(items))
	}

	out := make([]Record, 0, len(items)/replyRecordWidth)
	for i := 0; i < len(items); i += replyRecordWidth {
		var f [replyRecordWidth]string
		for j := 0; j < replyRecordWidth; j++ {
			f[j], _ = items[i+j].(string)
		}
		rec, err := buildRecord(f[0], f[1], f[2], f[3], f[4])
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].IssuedAt.Before(out[b].IssuedAt) })
	return out, nil
}

func buildRecord(digest, subject, tokenID, issuedAt, expiresAt string) (*Record, error) {
	rec := &Record{Digest: digest, Subject: subject, TokenID: tokenID}
	if issuedAt != "" {
		ms, err := strconv.ParseInt(issuedAt, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid session issue time: %w", err)
		}
		rec.IssuedAt = time.UnixMilli(ms)
	}
	if expiresAt != "" {
		ms, err := strconv.ParseInt(expiresAt, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid session expiry: %w", err)
		}
		rec.ExpiresAt = time.UnixMilli(ms)
	}
	return rec, nil
}

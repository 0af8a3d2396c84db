package revocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned when Redis cannot serve a request.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Common reasons recorded with an entry.
const (
	ReasonLogout    = "logout"
	ReasonLogoutAll = "logout_all"
	ReasonEvicted   = "evicted"
)

// Entry describes one revoked token id.
type Entry struct {
	TokenID   string
	Reason    string
	RevokedAt time.Time
}

// List is the deny list of revoked token ids.
type List struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewList returns a List that namespaces keys under prefix.
func NewList(client redis.UniversalClient, prefix string, now func() time.Time) *List {
	if prefix == "" {
		prefix = "gg"
	}
	if now == nil {
		now = time.Now
	}
	return &List{
		redis:  client,
		prefix: prefix,
		now:    now,
	}
}

func (l *List) key(tokenID string) string {
	return l.prefix + ":bl:" + tokenID
}

// Add revokes tokenID for ttl. Adding an id twice refreshes its reason and ttl.
func (l *List) Add(ctx context.Context, tokenID, reason string, ttl time.Duration) error {
	if tokenID == "" {
		return errors.New("token id required")
	}
	if ttl <= 0 {
		return errors.New("invalid revocation ttl")
	}
	if err := l.redis.Set(ctx, l.key(tokenID), l.value(reason), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// AddMany revokes every id in one pipeline.
func (l *List) AddMany(ctx context.Context, tokenIDs []string, reason string, ttl time.Duration) error {
	if len(tokenIDs) == 0 {
		return nil
	}
	if ttl <= 0 {
		return errors.New("invalid revocation ttl")
	}

	value := l.value(reason)
	pipe := l.redis.Pipeline()
	for _, id := range tokenIDs {
		if id == "" {
			continue
		}
		pipe.Set(ctx, l.key(id), value, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Contains reports whether tokenID is revoked.
func (l *List) Contains(ctx context.Context, tokenID string) (bool, error) {
	n, err := l.redis.Exists(ctx, l.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// Reason returns the entry for tokenID. The boolean is false when the id is
// not revoked.
func (l *List) Reason(ctx context.Context, tokenID string) (Entry, bool, error) {
	raw, err := l.redis.Get(ctx, l.key(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	entry := Entry{TokenID: tokenID, Reason: raw}
	if i := strings.LastIndexByte(raw, ':'); i >= 0 {
		if ms, err := strconv.ParseInt(raw[i+1:], 10, 64); err == nil {
			entry.Reason = raw[:i]
			entry.RevokedAt = time.UnixMilli(ms)
		}
	}
	return entry, true, nil
}

func (l *List) value(reason string) string {
	if reason == "" {
		reason = "revoked"
	}
	return reason + ":" + strconv.FormatInt(l.now().UnixMilli(), 10)
}

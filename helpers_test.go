package goGate

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = append([]byte(nil), testSigningKey...)
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEngine struct {
	*Engine
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	clock *testClock
}

func newTestEngine(t testing.TB, cfg Config, sink AuditSink) (*testEngine, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clock := newTestClock()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRoles(map[string][]string{
			"admin": {"ROLE_ADMIN", "ROLE_USER"},
		}).
		WithAuditSink(sink).
		WithLogger(discardLogger()).
		WithClock(clock.Now).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	te := &testEngine{Engine: engine, mr: mr, rdb: rdb, clock: clock}
	return te, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

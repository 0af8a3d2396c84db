// Command gogate-loadtest measures access validation and refresh rotation
// throughput of a goGate engine against Redis or an in-process miniredis.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

type sessionState struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func main() {
	flags := pflag.NewFlagSet("gogate-loadtest", pflag.ContinueOnError)
	var (
		subjects    = flags.Int("subjects", 10000, "number of subjects to log in")
		concurrency = flags.IntP("concurrency", "c", 256, "number of concurrent workers")
		ops         = flags.IntP("ops", "n", 200000, "operations per phase (validate + reissue)")
		redisAddr   = flags.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flags.String("prefix", "gglt", "redis key prefix")
	)
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if *subjects <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "subjects, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	engine, err := buildEngine(client, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]sessionState, *subjects)
	fmt.Printf("logging in %d subjects...\n", *subjects)
	startSeed := time.Now()
	for i := range states {
		pair, err := engine.Login(ctx, fmt.Sprintf("u-%d", i), "user")
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		states[i].access = pair.AccessToken
		states[i].refresh = pair.RefreshToken
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(*ops, *concurrency, 7919, func(r *mrand.Rand) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		access := st.access
		st.mu.Unlock()
		_, err := engine.ValidateAccess(ctx, access)
		return err
	})
	reissueStats := runPhase(*ops, *concurrency, 6151, func(r *mrand.Rand) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		pair, err := engine.Reissue(ctx, st.refresh)
		if err != nil {
			return err
		}
		st.access = pair.AccessToken
		st.refresh = pair.RefreshToken
		return nil
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("reissue", reissueStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("engine: reissue_ok=%d reissue_fail=%d validate_ok=%d validate_fail=%d store_unavailable=%d\n",
		snap.Counters[goGate.MetricReissueSuccess],
		snap.Counters[goGate.MetricReissueFailure],
		snap.Counters[goGate.MetricValidateSuccess],
		snap.Counters[goGate.MetricValidateFailure],
		snap.Counters[goGate.MetricStoreUnavailable],
	)
}

func buildEngine(client redis.UniversalClient, prefix string) (*goGate.Engine, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	cfg := goGate.DefaultConfig()
	cfg.JWT.PrivateKey = key
	cfg.Session.RedisPrefix = prefix
	cfg.Revocation.RedisPrefix = prefix
	cfg.Security.EnableLoginThrottle = false

	return goGate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
}

// runPhase spreads ops calls of op over concurrency workers and records each
// call's latency.
func runPhase(ops, concurrency int, seedStep int64, op func(r *mrand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*seedStep))
			for {
				if int(atomic.AddInt64(&cursor, 1))-1 >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

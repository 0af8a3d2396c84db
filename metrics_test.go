package goGate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Add(MetricLoginSuccess, 3)

	if got := m.Value(MetricLoginSuccess); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricReissueSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricReissueSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}
	for _, d := range observations {
		m.Observe(MetricValidateLatency, d)
	}
	m.Observe(MetricLoginSuccess, time.Millisecond)

	buckets := m.Snapshot().Histograms[MetricValidateLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsHistogramBoundsAreExact(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	m.Observe(MetricValidateLatency, 5*time.Millisecond+900*time.Microsecond)
	m.Observe(MetricValidateLatency, 2*time.Millisecond)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricValidateLatency]
	if buckets[0] != 1 || buckets[1] != 1 {
		t.Fatalf("expected 5.9ms in the 10ms bucket, got %v", buckets)
	}
	if got, want := snap.Sums[MetricValidateLatency], 7900*time.Microsecond; got != want {
		t.Fatalf("expected sum %v, got %v", want, got)
	}
}

func TestMetricsSnapshotOmitsLatencyCounter(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLogout)

	snap := m.Snapshot()
	if _, ok := snap.Counters[MetricValidateLatency]; ok {
		t.Fatal("latency id must not appear as a counter")
	}
	if len(snap.Histograms) != 0 {
		t.Fatalf("expected no histograms without latency enabled, got %v", snap.Histograms)
	}
	if snap.Counters[MetricLogout] != 1 {
		t.Fatalf("expected MetricLogout=1, got %d", snap.Counters[MetricLogout])
	}
}

func TestEngineMetricsTrackLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.EnableLatencyHistograms = true
	e, done := newTestEngine(t, cfg, nil)
	defer done()
	ctx := context.Background()

	pair, err := e.Login(ctx, "u-1", "USER")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := e.ValidateAccess(ctx, pair.AccessToken); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	next, err := e.Reissue(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("reissue failed: %v", err)
	}
	if err := e.Logout(ctx, next.RefreshToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	_, _ = e.ValidateAccess(ctx, next.AccessToken)

	snap := e.MetricsSnapshot()
	want := map[MetricID]uint64{
		MetricLoginSuccess:    1,
		MetricSessionCreated:  1,
		MetricReissueSuccess:  1,
		MetricLogout:          1,
		MetricTokenRevoked:    1,
		MetricValidateSuccess: 1,
		MetricValidateFailure: 1,
		MetricValidateRevoked: 1,
	}
	for id, v := range want {
		if snap.Counters[id] != v {
			t.Fatalf("metric %d: expected %d, got %d", id, v, snap.Counters[id])
		}
	}

	var observed uint64
	for _, v := range snap.Histograms[MetricValidateLatency] {
		observed += v
	}
	if observed != 2 {
		t.Fatalf("expected 2 latency observations, got %d", observed)
	}
}

func BenchmarkMetricsInc(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricLoginSuccess)
	}
}

func BenchmarkMetricsIncParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Inc(MetricValidateSuccess)
		}
	})
}

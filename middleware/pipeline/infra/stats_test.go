package infra

import (
	"context"
	"testing"
	"time"

	"admission-gateway/middleware/pipeline/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

func events() []domain.StatsEvent {
	at := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	return []domain.StatsEvent{
		{Key: "k1", Outcome: "ok", Status: 200, Method: "GET", Route: "/v1/users", At: at},
		{Key: "k1", Outcome: "rate_limit_exceeded", Status: 429, Method: "GET", Route: "/v1/users", At: at},
		{Key: "k2", Outcome: "unauthorized", Status: 401, Method: "POST", Route: "/v1/users", At: at},
	}
}

func TestMemoryStatsStore_CountsByRouteKeyAndOutcome(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	for _, ev := range events() {
		_ = s.Record(context.Background(), ev)
	}

	if got := s.Total(); got.Allowed != 2 || got.Denied != 1 {
		t.Fatalf("unexpected totals: %+v", got)
	}
	if got := s.ByRoute()["GET /v1/users"]; got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("unexpected route counters: %+v", got)
	}
	if got := s.ByKey()["k2"]; got.Allowed != 1 {
		t.Fatalf("unexpected key counters: %+v", got)
	}
	if got := s.ByOutcome()["unauthorized"]; got != 1 {
		t.Fatalf("expected 1 unauthorized, got %d", got)
	}
}

func TestRedisStatsStore_WritesHashes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	s := NewRedisStatsStore(rdb, WithStatsPrefix("test:stats:"), WithStatsTrackKeys(true), WithStatsTTL(time.Hour))
	for _, ev := range events() {
		if err := s.Record(context.Background(), ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if got := mr.HGet("test:stats:total", "allowed"); got != "2" {
		t.Fatalf("expected 2 allowed, got %q", got)
	}
	if got := mr.HGet("test:stats:total", "denied"); got != "1" {
		t.Fatalf("expected 1 denied, got %q", got)
	}
	if got := mr.HGet("test:stats:outcome", "rate_limit_exceeded"); got != "1" {
		t.Fatalf("expected outcome counter, got %q", got)
	}
	if got := mr.HGet("test:stats:route", "POST /v1/users:unauthorized"); got != "1" {
		t.Fatalf("expected route counter, got %q", got)
	}
	if got := mr.HGet("test:stats:status", "429"); got != "1" {
		t.Fatalf("expected status counter, got %q", got)
	}
	if got := mr.HGet("test:stats:minute:202405011030", "allowed"); got != "2" {
		t.Fatalf("expected minute bucket, got %q", got)
	}
	if ttl := mr.TTL("test:stats:key:k1"); ttl <= 0 {
		t.Fatalf("expected ttl on per-key hash, got %s", ttl)
	}
}

func TestPrometheusStats_CountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusStats(reg)
	for _, ev := range events() {
		_ = s.Record(context.Background(), ev)
	}

	if got := testutil.ToFloat64(s.requests.WithLabelValues("GET", "/v1/users", "rate_limit_exceeded")); got != 1 {
		t.Fatalf("expected 1 rate limited request, got %v", got)
	}
	if got := testutil.CollectAndCount(s.requests); got != 3 {
		t.Fatalf("expected 3 series, got %d", got)
	}
}

type failingStats struct{ err error }

func (f failingStats) Record(context.Context, domain.StatsEvent) error { return f.err }

func TestMultiStatsStore_FansOutAndReturnsFirstError(t *testing.T) {
	mem := NewMemoryStatsStore()
	boom := context.DeadlineExceeded
	m := MultiStatsStore{failingStats{err: boom}, nil, mem}

	if err := m.Record(context.Background(), events()[0]); err != boom {
		t.Fatalf("expected first error, got %v", err)
	}
	if mem.Total().Allowed != 1 {
		t.Fatalf("expected event to reach the memory store")
	}
}

func TestChanPool_ReleaseIsIdempotent(t *testing.T) {
	p := NewChanPool(1)

	release, ok := p.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected slot")
	}
	release()
	release()
	if p.InUse() != 0 {
		t.Fatalf("expected no slot in use, got %d", p.InUse())
	}

	r1, _ := p.Acquire(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := p.Acquire(ctx); ok {
		t.Fatalf("expected second acquire to time out")
	}
	r1()
}

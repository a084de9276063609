package infra

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/pipeline/domain"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"
)

// Store é uma implementação de infra baseada em token-bucket (x/time/rate)
// com um bucket por chave, mapa particionado em shards e limpeza periódica.
//
// Cada shard tem seu próprio lock (só para o mapa) e cada bucket tem o seu
// (para a decisão). Chaves diferentes não disputam o mesmo lock de bucket.
type Store struct {
	shards       []*shard
	capacity     int
	refill       rate.Limit
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*bucket
}

type bucket struct {
	mu  sync.Mutex
	lim *rate.Limiter
	// last é a maior marca de tempo já vista pelo bucket; o relógio nunca volta.
	last     time.Time
	lastSeen time.Time
	evicted  bool
}

type StoreOption func(*Store)

func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *Store) { s.cleanupEvery = d }
}

// WithShards define o número de partições do mapa de buckets (padrão 32).
func WithShards(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.shards = make([]*shard, n)
		}
	}
}

// WithClock troca o relógio usado pela limpeza (testes).
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore cria o store. capacity é o máximo de tokens do bucket e
// refillPerSecond a taxa de reposição.
func NewStore(capacity int, refillPerSecond float64, opts ...StoreOption) *Store {
	s := &Store{
		shards:       make([]*shard, 32),
		capacity:     capacity,
		refill:       rate.Limit(refillPerSecond),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*bucket)}
	}
	return s
}

func (s *Store) Capacity() int               { return s.capacity }
func (s *Store) RefillPerSecond() float64    { return float64(s.refill) }
func (s *Store) CleanupEvery() time.Duration { return s.cleanupEvery }

func (s *Store) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Admit implementa domain.LimiterStore.
func (s *Store) Admit(key domain.Key, now time.Time) domain.Decision {
	for {
		b := s.bucket(string(key), now)
		if dec, ok := b.admit(now, s.refill); ok {
			return dec
		}
		// bucket removido pela limpeza entre o lookup e o lock: busca de novo
	}
}

// Tokens devolve quantos tokens a chave teria em now, sem consumir.
// Chave desconhecida tem o bucket cheio.
func (s *Store) Tokens(key domain.Key, now time.Time) float64 {
	sh := s.shardFor(string(key))
	sh.mu.Lock()
	b, ok := sh.entries[string(key)]
	sh.mu.Unlock()
	if !ok {
		return float64(s.capacity)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lim.TokensAt(b.clamp(now))
}

// Len devolve o número de buckets vivos.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

func (s *Store) bucket(key string, now time.Time) *bucket {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if b, ok := sh.entries[key]; ok {
		return b
	}

	// bucket novo começa cheio
	b := &bucket{
		lim:      rate.NewLimiter(s.refill, s.capacity),
		last:     now,
		lastSeen: now,
	}
	sh.entries[key] = b
	return b
}

func (b *bucket) clamp(now time.Time) time.Time {
	if now.Before(b.last) {
		return b.last
	}
	return now
}

func (b *bucket) admit(now time.Time, refill rate.Limit) (domain.Decision, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.evicted {
		return domain.Decision{}, false
	}

	now = b.clamp(now)
	b.last = now
	b.lastSeen = now

	if b.lim.AllowN(now, 1) {
		return domain.Decision{Allowed: true}, true
	}

	retry := 0.0
	if refill > 0 {
		retry = (1 - b.lim.TokensAt(now)) / float64(refill)
	}
	return domain.Decision{Allowed: false, RetryAfterSeconds: retry}, true
}

func (s *Store) Cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, b := range sh.entries {
			b.mu.Lock()
			if b.lastSeen.Before(cutoff) {
				b.evicted = true
				delete(sh.entries, k)
			}
			b.mu.Unlock()
		}
		sh.mu.Unlock()
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *Store) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

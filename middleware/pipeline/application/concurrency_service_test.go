package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"admission-gateway/middleware/pipeline/domain"
)

type blockingPool struct{}

func (p *blockingPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case <-time.After(5 * time.Second):
		// não deve chegar aqui nos testes
		return nil, false
	}
}

type immediatePool struct {
	acquired int
}

func (p *immediatePool) Acquire(ctx context.Context) (func(), bool) {
	p.acquired++
	return func() {}, true
}

func TestConcurrencyService_Acquire_AllowsWhenNoPool(t *testing.T) {
	svc := ConcurrencyService{}
	release, err := svc.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	release()
}

func TestConcurrencyService_Acquire_TimeoutIsUnavailable(t *testing.T) {
	svc := ConcurrencyService{Pool: &blockingPool{}, AcquireTimeout: 10 * time.Millisecond}

	_, err := svc.Acquire(context.Background())
	var f *domain.Failure
	if !errors.As(err, &f) || f.Kind != domain.KindUnavailable {
		t.Fatalf("expected KindUnavailable failure, got %v", err)
	}
	if StatusFor(f.Kind) != 503 {
		t.Fatalf("expected 503 for unavailable, got %d", StatusFor(f.Kind))
	}
}

func TestConcurrencyService_Acquire_NoTimeoutDelegatesToPool(t *testing.T) {
	pool := &immediatePool{}
	svc := ConcurrencyService{Pool: pool, AcquireTimeout: 0}

	if _, err := svc.Acquire(context.Background()); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if pool.acquired != 1 {
		t.Fatalf("expected pool Acquire to be called once, got %d", pool.acquired)
	}
}

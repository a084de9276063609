package application

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/pipeline/domain"
)

const DefaultDrainTimeout = 30 * time.Second

// ShutdownCoordinator controla a admissão durante o desligamento.
//
// Running: admite. Draining: só termina o que já entrou e recusa o resto.
// Stopped: quando o contador de requisições em andamento chega a zero ou
// quando o drain timeout estoura, o que vier primeiro. Não há volta para Running.
type ShutdownCoordinator struct {
	mu           sync.Mutex
	state        domain.ShutdownState
	inFlight     int64
	drainTimeout time.Duration
	drainStarted time.Time
	timer        *time.Timer
	stopped      chan struct{}
	now          func() time.Time
}

type ShutdownOption func(*ShutdownCoordinator)

// WithShutdownClock troca o relógio usado para o drain timeout (testes).
func WithShutdownClock(now func() time.Time) ShutdownOption {
	return func(s *ShutdownCoordinator) { s.now = now }
}

// NewShutdownCoordinator cria o coordenador. drainTimeout <= 0 usa DefaultDrainTimeout:
// sem timeout uma chamada pendurada seguraria o processo para sempre.
func NewShutdownCoordinator(drainTimeout time.Duration, opts ...ShutdownOption) *ShutdownCoordinator {
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	s := &ShutdownCoordinator{
		drainTimeout: drainTimeout,
		stopped:      make(chan struct{}),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enter registra uma nova requisição. Fora de Running devolve KindShuttingDown.
func (s *ShutdownCoordinator) Enter() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()
	if s.state != domain.StateRunning {
		return domain.Fail(domain.KindShuttingDown, "service unavailable, shutting down")
	}
	s.inFlight++
	return nil
}

// Leave marca o fim de uma requisição admitida por Enter.
func (s *ShutdownCoordinator) Leave() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight > 0 {
		s.inFlight--
	}
	if s.state == domain.StateDraining && s.inFlight == 0 {
		s.stopLocked()
	}
}

// BeginDrain inicia o desligamento. Chamadas repetidas não têm efeito.
func (s *ShutdownCoordinator) BeginDrain() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateRunning {
		return
	}
	s.state = domain.StateDraining
	s.drainStarted = s.now()
	if s.inFlight == 0 {
		s.stopLocked()
		return
	}
	s.timer = time.AfterFunc(s.drainTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == domain.StateDraining {
			s.stopLocked()
		}
	})
}

func (s *ShutdownCoordinator) State() domain.ShutdownState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return s.state
}

func (s *ShutdownCoordinator) InFlight() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *ShutdownCoordinator) DrainTimeout() time.Duration { return s.drainTimeout }

// Done fecha quando o estado chega a Stopped.
func (s *ShutdownCoordinator) Done() <-chan struct{} { return s.stopped }

// Wait bloqueia até Stopped ou até o ctx encerrar.
func (s *ShutdownCoordinator) Wait(ctx context.Context) error {
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// expireLocked aplica o drain timeout pelo relógio configurado; o timer real
// cobre o caso em que ninguém consulta o estado.
func (s *ShutdownCoordinator) expireLocked() {
	if s.state == domain.StateDraining && s.now().Sub(s.drainStarted) >= s.drainTimeout {
		s.stopLocked()
	}
}

func (s *ShutdownCoordinator) stopLocked() {
	if s.state == domain.StateStopped {
		return
	}
	s.state = domain.StateStopped
	if s.timer != nil {
		s.timer.Stop()
	}
	close(s.stopped)
}

package domain

import (
	"context"
	"time"
)

// StatsEvent representa o desfecho de uma requisição no pipeline.
//
// Ele é "agnóstico de HTTP": Method/Route são strings genéricas.
// Outcome é "ok" ou o nome do Kind da falha (ex: "rate_limit_exceeded").
//
// Observação: cuidado com cardinalidade (Route deve ser o padrão da rota,
// não o path concreto; Key só deve ser persistida se explicitamente pedido).
type StatsEvent struct {
	Key     Key
	Outcome string
	Status  int

	Method string
	Route  string

	Duration time.Duration
	At       time.Time
}

// Allowed informa se a requisição passou pelo rate limit.
func (ev StatsEvent) Allowed() bool {
	return ev.Outcome != KindRateLimitExceeded.String()
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
//
// Implementações podem armazenar em Redis, Prometheus, memória, etc.
// O pipeline trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

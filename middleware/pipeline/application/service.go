package application

import (
	"time"

	"admission-gateway/middleware/pipeline/domain"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Store domain.LimiterStore
	Now   func() time.Time
}

func (s Service) Decide(key domain.Key) domain.Decision {
	if s.Store == nil {
		return domain.Decision{Allowed: true}
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	dec := s.Store.Admit(key, now())
	if dec.Allowed {
		return domain.Decision{Allowed: true}
	}
	return dec
}

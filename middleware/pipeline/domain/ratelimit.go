package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

// Key é a identidade de admissão (IP, API key, subject). Usada só como chave de mapa.
type Key string

// LimiterStore decide a admissão de uma chave no instante now.
//
// A implementação deve ser linearizável por chave: duas chamadas concorrentes
// para a mesma chave nunca consomem o mesmo token.
type LimiterStore interface {
	Admit(key Key, now time.Time) Decision
}

type Decision struct {
	Allowed bool
	// RetryAfterSeconds é o tempo até existir um token inteiro no bucket.
	// Se 0, não há recomendação.
	RetryAfterSeconds float64
}

// BucketInfo expõe a configuração do bucket para headers X-RateLimit-*.
type BucketInfo interface {
	Capacity() int
	RefillPerSecond() float64
	Tokens(key Key, now time.Time) float64
}

package domain

import (
	"context"
	"strings"
	"time"
)

// Request é a requisição já parseada entregue pelo listener.
// O pipeline nunca lê bytes crus: Body já vem decodificado (ou BodyErr preenchido).
type Request struct {
	Method     string
	Path       string
	Headers    map[string][]string
	Query      map[string][]string
	Params     map[string]string
	Body       map[string]any
	BodyErr    error
	RemoteAddr string
}

// Header devolve o primeiro valor do header (case-insensitive).
func (r Request) Header(name string) string {
	if v, ok := r.Headers[name]; ok && len(v) > 0 {
		return v[0]
	}
	for k, v := range r.Headers {
		if len(v) > 0 && strings.EqualFold(k, name) {
			return v[0]
		}
	}
	return ""
}

// RequestContext acumula o resultado de cada estágio de uma requisição.
// Pertence a uma única requisição em andamento; nunca é compartilhado.
type RequestContext struct {
	ID       string
	Identity Key
	Request  Request
	Route    Route

	Principal *Principal
	Payload   Payload
	Result    *Result
}

// Route é a configuração por rota.
type Route struct {
	// Name identifica a rota em logs/stats (padrão da rota, ex: "GET /v1/users/{id}").
	Name           string
	AuthRequired   bool
	RequiredScopes []string
	// Schema nil desliga o estágio de validação.
	Schema *Schema
	// Timeout do handler. 0 = sem limite.
	Timeout time.Duration
}

// Result é o retorno de sucesso de um handler.
type Result struct {
	Data    any
	Message string
	// Status 0 = 200.
	Status int
}

// HandlerFunc é a lógica de negócio de uma rota.
type HandlerFunc func(ctx context.Context, rc *RequestContext) (Result, error)

package domain

import (
	"errors"
	"fmt"
)

// Kind é a taxonomia de falhas que o pipeline sabe traduzir.
type Kind int

const (
	KindUnhandled Kind = iota
	KindRateLimitExceeded
	KindUnauthorized
	KindForbidden
	KindValidationFailed
	KindNotFound
	KindTimeout
	KindShuttingDown
	// KindUnavailable é a rejeição do limite de concorrência (servidor ocupado).
	KindUnavailable
	// KindPayloadTooLarge é um body acima do limite do listener.
	KindPayloadTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindRateLimitExceeded:
		return "rate_limit_exceeded"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindValidationFailed:
		return "validation_failed"
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindShuttingDown:
		return "shutting_down"
	case KindUnavailable:
		return "unavailable"
	case KindPayloadTooLarge:
		return "payload_too_large"
	default:
		return "unhandled"
	}
}

var (
	// ErrInvalidCredential deve ser retornado (ou embrulhado) pelo Verifier
	// quando a credencial não é válida.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrForbidden indica credencial válida sem permissão suficiente.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound pode ser retornado pelo handler para gerar um 404.
	ErrNotFound = errors.New("not found")
	// ErrBodyTooLarge marca o BodyErr de um body acima do limite.
	ErrBodyTooLarge = errors.New("request body too large")
)

// Failure é uma falha esperada de um estágio (ou do handler).
//
// Message é exibida ao cliente, exceto para KindUnhandled. Cause nunca é exibida.
type Failure struct {
	Kind              Kind
	Message           string
	Violations        []Violation
	RetryAfterSeconds float64
	Cause             error
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	if f.Message == "" {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Cause }

// Fail cria uma Failure simples.
func Fail(kind Kind, message string) *Failure {
	return &Failure{Kind: kind, Message: message}
}

// NotFound é um atalho para handlers.
func NotFound(message string) *Failure {
	return &Failure{Kind: KindNotFound, Message: message}
}

// AsFailure extrai uma Failure da cadeia de err.
// Erros desconhecidos viram KindUnhandled com o erro original em Cause.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, ErrNotFound) {
		return &Failure{Kind: KindNotFound, Cause: err}
	}
	return &Failure{Kind: KindUnhandled, Cause: err}
}

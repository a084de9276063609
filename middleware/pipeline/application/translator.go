package application

import (
	"net/http"

	"admission-gateway/middleware/pipeline/domain"

	"github.com/sirupsen/logrus"
)

// mensagem fixa dos 500: nunca derivada do erro interno
const internalErrorMessage = "internal server error"

var kindStatus = map[domain.Kind]int{
	domain.KindRateLimitExceeded: http.StatusTooManyRequests,
	domain.KindUnauthorized:      http.StatusUnauthorized,
	domain.KindForbidden:         http.StatusForbidden,
	domain.KindValidationFailed:  http.StatusBadRequest,
	domain.KindNotFound:          http.StatusNotFound,
	domain.KindTimeout:           http.StatusGatewayTimeout,
	domain.KindShuttingDown:      http.StatusServiceUnavailable,
	domain.KindUnavailable:       http.StatusServiceUnavailable,
	domain.KindPayloadTooLarge:   http.StatusRequestEntityTooLarge,
	domain.KindUnhandled:         http.StatusInternalServerError,
}

var kindMessage = map[domain.Kind]string{
	domain.KindRateLimitExceeded: "too many requests",
	domain.KindUnauthorized:      "authentication required",
	domain.KindForbidden:         "access denied",
	domain.KindValidationFailed:  "request validation failed",
	domain.KindNotFound:          "resource not found",
	domain.KindTimeout:           "request timed out",
	domain.KindShuttingDown:      "service unavailable, shutting down",
	domain.KindUnavailable:       "service unavailable",
	domain.KindPayloadTooLarge:   "request body too large",
}

// ErrorTranslator mapeia qualquer falha para (status, envelope de erro).
type ErrorTranslator struct {
	Log logrus.FieldLogger
}

// StatusFor devolve o status HTTP de um Kind; Kind desconhecido vira 500.
func StatusFor(kind domain.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (t ErrorTranslator) Translate(err error) (int, domain.ErrorEnvelope) {
	return t.TranslateWith(t.Log, err)
}

// TranslateWith é Translate com um logger já enriquecido (request_id, rota...).
func (t ErrorTranslator) TranslateWith(log logrus.FieldLogger, err error) (int, domain.ErrorEnvelope) {
	f := domain.AsFailure(err)
	if f == nil {
		f = &domain.Failure{Kind: domain.KindUnhandled}
	}

	status := StatusFor(f.Kind)
	if status == http.StatusInternalServerError {
		if log != nil {
			log.WithError(err).WithField("kind", f.Kind.String()).Error("unhandled failure")
		}
		return status, domain.NewError(status, internalErrorMessage, nil)
	}

	msg := f.Message
	if msg == "" {
		msg = kindMessage[f.Kind]
	}

	var details []domain.Violation
	if f.Kind == domain.KindValidationFailed {
		details = f.Violations
	}
	return status, domain.NewError(status, msg, details)
}

package domain

// Os nomes dos campos JSON abaixo são contrato com os clientes:
// renomear qualquer um deles é uma breaking change.

// Violation é um problema de validação em um campo.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Envelope é implementado apenas por SuccessEnvelope e ErrorEnvelope.
type Envelope interface {
	envelope()
}

type SuccessEnvelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

type ErrorEnvelope struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Details []Violation `json:"details,omitempty"`
}

func (SuccessEnvelope) envelope() {}
func (ErrorEnvelope) envelope()   {}

func NewSuccess(data any, message string) SuccessEnvelope {
	return SuccessEnvelope{Success: true, Data: data, Message: message}
}

func NewError(code int, message string, details []Violation) ErrorEnvelope {
	return ErrorEnvelope{Error: ErrorBody{Code: code, Message: message, Details: details}}
}

// Response é o que o pipeline devolve para o listener HTTP serializar.
type Response struct {
	Status   int
	Envelope Envelope
	// RetryAfterSeconds > 0 vira o header Retry-After.
	RetryAfterSeconds float64
	RequestID         string
	// Identity é a chave de admissão usada (headers X-RateLimit-*).
	Identity Key
}

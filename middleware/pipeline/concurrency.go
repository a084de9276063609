package pipeline

import (
	"net/http"
	"time"

	"admission-gateway/middleware/pipeline/application"
	"admission-gateway/middleware/pipeline/domain"
	"admission-gateway/middleware/pipeline/infra"

	"github.com/sirupsen/logrus"
)

type ConcurrencyOptions struct {
	Max            int
	AcquireTimeout time.Duration
	// Pool opcional; nil cria um infra.ChanPool com Max vagas.
	Pool domain.SlotPool
	Log  logrus.FieldLogger
}

// ConcurrencyMiddleware limita requisições simultâneas. Sem vaga dentro do
// AcquireTimeout, responde 503 com envelope de erro.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Pool == nil && opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.Pool == nil {
		opts.Pool = infra.NewChanPool(opts.Max)
	}

	svc := application.ConcurrencyService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, err := svc.Acquire(r.Context())
			if err != nil {
				WriteFailure(w, opts.Log, err)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}

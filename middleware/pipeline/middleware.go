package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"admission-gateway/middleware/pipeline/application"
	"admission-gateway/middleware/pipeline/domain"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

const DefaultMaxBodyBytes = 1 << 20

type Options struct {
	Pipeline *application.Pipeline

	// MaxBodyBytes limita o body JSON. 0 = DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// Com AddRateLimitHeaders e um RateInfo, a resposta leva
	// X-RateLimit-Limit e X-RateLimit-Remaining da identidade.
	AddRateLimitHeaders bool
	RateInfo            domain.BucketInfo

	Log logrus.FieldLogger
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Handler expõe uma rota do pipeline como http.Handler.
//
// Se route.Name for vazio, usa o padrão da rota no chi (ex: "/users/{id}")
// para não explodir a cardinalidade de logs e stats com paths concretos.
func Handler(opts Options, route domain.Route, h domain.HandlerFunc) http.Handler {
	opts = opts.withDefaults()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := ToRequest(w, r, opts.MaxBodyBytes)

		rt := route
		if rt.Name == "" {
			rt.Name = routePattern(r)
		}

		resp := opts.Pipeline.Handle(r.Context(), req, rt, h)

		if opts.AddRateLimitHeaders && opts.RateInfo != nil {
			w.Header().Set("X-RateLimit-Limit", formatInt(opts.RateInfo.Capacity()))
			w.Header().Set("X-RateLimit-Remaining", remaining(opts.RateInfo.Tokens(resp.Identity, opts.Now())))
		}
		WriteResponse(w, opts.Log, resp)
	})
}

// ToRequest converte a requisição HTTP. Erro de decodificação do body não
// aborta aqui: vai em BodyErr e o estágio de validação recusa a requisição.
// O body tem que ser exatamente um objeto JSON (nada depois dele).
func ToRequest(w http.ResponseWriter, r *http.Request, maxBody int64) domain.Request {
	req := domain.Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    r.Header,
		Query:      r.URL.Query(),
		Params:     urlParams(r),
		RemoteAddr: r.RemoteAddr,
	}

	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return req
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		if !errors.Is(err, io.EOF) {
			req.BodyErr = bodyError(err)
		}
		return req
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("unexpected data after the JSON object")
		}
		req.BodyErr = bodyError(err)
		return req
	}
	req.Body = m
	return req
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: limit %d bytes", domain.ErrBodyTooLarge, tooLarge.Limit)
	}
	return err
}

func urlParams(r *http.Request) map[string]string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || len(rctx.URLParams.Keys) == 0 {
		return nil
	}
	out := make(map[string]string, len(rctx.URLParams.Keys))
	for i, k := range rctx.URLParams.Keys {
		if k == "*" || i >= len(rctx.URLParams.Values) {
			continue
		}
		out[k] = rctx.URLParams.Values[i]
	}
	return out
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// WriteResponse serializa o envelope com os headers do pipeline.
func WriteResponse(w http.ResponseWriter, log logrus.FieldLogger, resp domain.Response) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	if resp.RequestID != "" {
		h.Set("X-Request-ID", resp.RequestID)
	}
	if resp.RetryAfterSeconds > 0 {
		h.Set("Retry-After", retryAfter(resp.RetryAfterSeconds))
	}
	w.WriteHeader(resp.Status)

	if err := json.NewEncoder(w).Encode(resp.Envelope); err != nil && log != nil {
		log.WithError(err).WithField("request_id", resp.RequestID).Warn("failed to write response envelope")
	}
}

// WriteFailure responde uma falha fora do pipeline (404 do router, 503 do
// limite de concorrência) com o mesmo envelope.
func WriteFailure(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	status, env := application.ErrorTranslator{Log: log}.Translate(err)
	WriteResponse(w, log, domain.Response{Status: status, Envelope: env})
}

// NotFound e MethodNotAllowed são para r.NotFound / r.MethodNotAllowed do chi.
func NotFound(log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteFailure(w, log, domain.NotFound("route not found"))
	}
}

func MethodNotAllowed(log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteFailure(w, log, domain.NotFound("method not allowed for this route"))
	}
}

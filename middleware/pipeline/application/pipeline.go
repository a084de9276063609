package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"admission-gateway/middleware/pipeline/domain"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Stage é um passo do pipeline. A ordem é fixa (rate limit, auth, validação,
// handler) e montada pelo próprio Pipeline; não é configurável por requisição.
type Stage interface {
	Name() string
	// Timeout <= 0: sem limite.
	Timeout() time.Duration
	Run(ctx context.Context, rc *domain.RequestContext) error
}

type Options struct {
	Limiter domain.LimiterStore
	Keys    KeyExtractor

	Verifier    domain.Verifier
	AuthHeader  string
	AuthTimeout time.Duration

	UnknownFields domain.UnknownFieldPolicy

	Shutdown *ShutdownCoordinator
	Stats    domain.StatsStore
	Log      logrus.FieldLogger

	Now   func() time.Time
	NewID func() string
}

// Pipeline executa os estágios em ordem em volta do handler da rota e garante
// exatamente um envelope e um status por requisição.
type Pipeline struct {
	keys        KeyExtractor
	limiter     Service
	auth        Authenticator
	authTimeout time.Duration
	validator   Validator
	translator  ErrorTranslator
	shutdown    *ShutdownCoordinator
	stats       domain.StatsStore
	log         logrus.FieldLogger
	now         func() time.Time
	newID       func() string
}

func New(opts Options) *Pipeline {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Pipeline{
		keys:        opts.Keys,
		limiter:     Service{Store: opts.Limiter, Now: opts.Now},
		auth:        Authenticator{Verifier: opts.Verifier, Header: opts.AuthHeader},
		authTimeout: opts.AuthTimeout,
		validator:   Validator{UnknownFields: opts.UnknownFields},
		translator:  ErrorTranslator{Log: opts.Log},
		shutdown:    opts.Shutdown,
		stats:       opts.Stats,
		log:         opts.Log,
		now:         opts.Now,
		newID:       opts.NewID,
	}
}

// Stages monta a lista de estágios da rota. A validação sempre roda: sem
// schema ela só recusa um body que não pôde ser decodificado.
func (p *Pipeline) Stages(route domain.Route, h domain.HandlerFunc) []Stage {
	stages := []Stage{rateLimitStage{p}}
	if route.AuthRequired {
		stages = append(stages, authStage{p})
	}
	stages = append(stages, validateStage{p})
	return append(stages, handleStage{h: h, timeout: route.Timeout})
}

func (p *Pipeline) Handle(ctx context.Context, req domain.Request, route domain.Route, h domain.HandlerFunc) domain.Response {
	start := p.now()
	rc := &domain.RequestContext{
		ID:       p.newID(),
		Identity: p.keys.Extract(req),
		Request:  req,
		Route:    route,
	}
	log := p.log.WithFields(logrus.Fields{
		"request_id": rc.ID,
		"route":      routeName(rc),
		"identity":   string(rc.Identity),
	})

	resp, outcome := p.admit(ctx, rc, h, log)
	resp.RequestID = rc.ID
	resp.Identity = rc.Identity

	p.record(ctx, rc, resp, outcome, start, log)
	log.WithField("status", resp.Status).Debug("request completed")
	return resp
}

// admit devolve a resposta e o outcome para stats ("ok" ou o nome do Kind).
func (p *Pipeline) admit(ctx context.Context, rc *domain.RequestContext, h domain.HandlerFunc, log logrus.FieldLogger) (domain.Response, string) {
	if err := p.shutdown.Enter(); err != nil {
		return p.fail(log, err)
	}
	defer p.shutdown.Leave()

	for _, st := range p.Stages(rc.Route, h) {
		// cliente desistiu: não começa o próximo estágio
		if err := ctx.Err(); err != nil {
			return p.fail(log, &domain.Failure{Kind: domain.KindTimeout, Message: "request cancelled", Cause: err})
		}
		if err := p.runStage(ctx, st, rc); err != nil {
			return p.fail(log, err)
		}
	}

	res := rc.Result
	if res == nil {
		res = &domain.Result{}
	}
	status := res.Status
	if status == 0 {
		status = 200
	}
	if status < 200 || status > 299 {
		log.WithField("status", status).Warn("handler returned a non-2xx success status, using 200")
		status = 200
	}
	return domain.Response{Status: status, Envelope: domain.NewSuccess(res.Data, res.Message)}, "ok"
}

// runStage executa o estágio num contexto que não é cancelado pelo cliente.
// Com timeout, o estágio roda numa cópia do RequestContext: se estourar, a
// cópia é descartada e o estágio termina sozinho, sem ser interrompido no meio.
func (p *Pipeline) runStage(ctx context.Context, st Stage, rc *domain.RequestContext) error {
	stageCtx := context.WithoutCancel(ctx)
	timeout := st.Timeout()
	if timeout <= 0 {
		return safeRun(stageCtx, st, rc)
	}

	stageCtx, cancel := context.WithTimeout(stageCtx, timeout)
	work := *rc
	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- safeRun(stageCtx, st, &work)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && stageCtx.Err() != nil {
			return stageTimeout(st, err)
		}
		*rc = work
		return err
	case <-timer.C:
		return stageTimeout(st, nil)
	}
}

// safeRun converte panic de qualquer estágio em KindUnhandled, inclusive na
// goroutine do timeout.
func safeRun(ctx context.Context, st Stage, rc *domain.RequestContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.Failure{Kind: domain.KindUnhandled, Cause: fmt.Errorf("%s panic: %v", st.Name(), r)}
		}
	}()
	return st.Run(ctx, rc)
}

func stageTimeout(st Stage, cause error) error {
	return &domain.Failure{Kind: domain.KindTimeout, Message: st.Name() + " timed out", Cause: cause}
}

func (p *Pipeline) fail(log logrus.FieldLogger, err error) (domain.Response, string) {
	f := domain.AsFailure(err)
	status, env := p.translator.TranslateWith(log, err)

	switch f.Kind {
	case domain.KindRateLimitExceeded:
		log.WithField("retry_after", f.RetryAfterSeconds).Warn("rate limit exceeded")
	case domain.KindUnhandled:
		// já logado pelo translator
	default:
		log.WithField("kind", f.Kind.String()).WithField("status", status).Info("request rejected")
	}

	resp := domain.Response{Status: status, Envelope: env}
	if f.Kind == domain.KindRateLimitExceeded {
		resp.RetryAfterSeconds = f.RetryAfterSeconds
	}
	return resp, f.Kind.String()
}

func (p *Pipeline) record(ctx context.Context, rc *domain.RequestContext, resp domain.Response, outcome string, start time.Time, log logrus.FieldLogger) {
	if p.stats == nil {
		return
	}

	end := p.now()
	err := p.stats.Record(context.WithoutCancel(ctx), domain.StatsEvent{
		Key:      rc.Identity,
		Outcome:  outcome,
		Status:   resp.Status,
		Method:   rc.Request.Method,
		Route:    routeName(rc),
		Duration: end.Sub(start),
		At:       end,
	})
	if err != nil {
		log.WithError(err).Debug("stats record failed")
	}
}

func routeName(rc *domain.RequestContext) string {
	if rc.Route.Name != "" {
		return rc.Route.Name
	}
	return rc.Request.Path
}

type rateLimitStage struct{ p *Pipeline }

func (rateLimitStage) Name() string           { return "rate limit" }
func (rateLimitStage) Timeout() time.Duration { return 0 }

func (s rateLimitStage) Run(_ context.Context, rc *domain.RequestContext) error {
	dec := s.p.limiter.Decide(rc.Identity)
	if dec.Allowed {
		return nil
	}
	return &domain.Failure{
		Kind:              domain.KindRateLimitExceeded,
		Message:           "rate limit exceeded, retry later",
		RetryAfterSeconds: dec.RetryAfterSeconds,
	}
}

type authStage struct{ p *Pipeline }

func (authStage) Name() string             { return "authentication" }
func (s authStage) Timeout() time.Duration { return s.p.authTimeout }

func (s authStage) Run(ctx context.Context, rc *domain.RequestContext) error {
	principal, err := s.p.auth.Authenticate(ctx, rc.Request, rc.Route.RequiredScopes)
	if err != nil {
		return err
	}
	rc.Principal = &principal
	return nil
}

type validateStage struct{ p *Pipeline }

func (validateStage) Name() string           { return "validation" }
func (validateStage) Timeout() time.Duration { return 0 }

func (s validateStage) Run(_ context.Context, rc *domain.RequestContext) error {
	payload, err := s.p.validator.Validate(rc.Route.Schema, rc.Request)
	if err != nil {
		return err
	}
	rc.Payload = payload
	return nil
}

type handleStage struct {
	h       domain.HandlerFunc
	timeout time.Duration
}

func (handleStage) Name() string             { return "handler" }
func (s handleStage) Timeout() time.Duration { return s.timeout }

func (s handleStage) Run(ctx context.Context, rc *domain.RequestContext) error {
	if s.h == nil {
		return domain.NotFound("no handler for route")
	}
	res, err := s.h(ctx, rc)
	if err != nil {
		return err
	}
	rc.Result = &res
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"admission-gateway/middleware/pipeline"
	"admission-gateway/middleware/pipeline/application"
	"admission-gateway/middleware/pipeline/domain"
	"admission-gateway/middleware/pipeline/infra"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

// gateway junta as peças configuradas: store, pipeline, rotas e stats.
type gateway struct {
	cfg      Config
	log      *logrus.Logger
	store    *infra.Store
	memStats *infra.MemoryStatsStore
	pipeline *application.Pipeline
	shutdown *application.ShutdownCoordinator
	handler  http.Handler
	closers  []func() error
}

type gatewayDeps struct {
	Registry *prometheus.Registry
	// Redis opcional (testes); nil cria um client a partir da config.
	Redis      redis.UniversalClient
	HTTPClient *http.Client
	Now        func() time.Time
}

func newLogger(cfg LogConfig) (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

func newGateway(ctx context.Context, cfg Config, log *logrus.Logger, deps gatewayDeps) (*gateway, error) {
	g := &gateway{cfg: cfg, log: log}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	rl := cfg.RateLimit
	var limiter domain.LimiterStore
	if rl.Enabled {
		idle := time.Duration(rl.IdleEvictionSeconds) * time.Second
		opts := []infra.StoreOption{infra.WithIdleTTL(idle), infra.WithShards(rl.Shards)}
		if idle > 0 {
			opts = append(opts, infra.WithCleanupEvery(idle/2))
		} else {
			opts = append(opts, infra.WithCleanupEvery(0))
		}
		g.store = infra.NewStore(rl.Capacity, rl.RefillPerSecond, opts...)
		g.store.StartJanitor(ctx)
		limiter = g.store
	}

	precedence, err := application.ParseIdentitySources(rl.IdentityPrecedence)
	if err != nil {
		return nil, err
	}

	var verifier domain.Verifier
	if cfg.Auth.JWTSecret != "" {
		verifier = infra.NewJWTVerifier([]byte(cfg.Auth.JWTSecret),
			infra.WithIssuer(cfg.Auth.Issuer),
			infra.WithAudience(cfg.Auth.Audience),
		)
	}

	stats, err := g.statsStores(ctx, deps)
	if err != nil {
		return nil, err
	}

	policy, _ := domain.ParseUnknownFieldPolicy(cfg.Validation.UnknownFieldPolicy)
	g.shutdown = application.NewShutdownCoordinator(seconds(cfg.Shutdown.DrainTimeoutSeconds))
	g.pipeline = application.New(application.Options{
		Limiter: limiter,
		Keys: application.KeyExtractor{
			Precedence:         precedence,
			APIKeyHeader:       rl.APIKeyHeader,
			SubjectHeader:      rl.SubjectHeader,
			TrustXForwardedFor: rl.TrustXFF,
		},
		Verifier:      verifier,
		AuthHeader:    cfg.Auth.Header,
		AuthTimeout:   seconds(cfg.Auth.TimeoutSeconds),
		UnknownFields: policy,
		Shutdown:      g.shutdown,
		Stats:         stats,
		Log:           log,
		Now:           deps.Now,
	})

	router, err := g.routes(deps)
	if err != nil {
		return nil, err
	}

	h := pipeline.ConcurrencyMiddleware(pipeline.ConcurrencyOptions{
		Max:            cfg.Concurrency.Max,
		AcquireTimeout: seconds(cfg.Concurrency.AcquireTimeoutSeconds),
		Log:            log,
	})(router)
	if len(cfg.CORS.AllowedOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: []string{"HEAD", "GET", "POST", "PUT", "PATCH", "DELETE"},
			AllowedHeaders: []string{"Content-Type", "Authorization", rl.APIKeyHeader},
			ExposedHeaders: []string{"Retry-After", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		}).Handler(h)
	}
	g.handler = h
	return g, nil
}

func (g *gateway) statsStores(ctx context.Context, deps gatewayDeps) (domain.StatsStore, error) {
	sc := g.cfg.Stats
	g.memStats = infra.NewMemoryStatsStore(infra.WithTrackKeys(sc.TrackKeys))
	stores := infra.MultiStatsStore{g.memStats}

	if sc.Prometheus {
		stores = append(stores, infra.NewPrometheusStats(deps.Registry))
	}

	if sc.Redis.Enabled {
		rdb := deps.Redis
		if rdb == nil {
			client := redis.NewClient(&redis.Options{
				Addr:     sc.Redis.Addr,
				Password: sc.Redis.Password,
				DB:       sc.Redis.DB,
			})
			g.closers = append(g.closers, client.Close)
			rdb = client
		}

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("redis stats ping error: %w", err)
		}

		stores = append(stores, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(sc.Redis.Prefix),
			infra.WithStatsTTL(time.Duration(sc.Redis.TTLSeconds)*time.Second),
			infra.WithStatsBucket(sc.Redis.Bucket),
			infra.WithStatsTrackKeys(sc.TrackKeys),
		))
	}
	return stores, nil
}

func (g *gateway) routes(deps gatewayDeps) (http.Handler, error) {
	r := chi.NewRouter()
	r.NotFound(pipeline.NotFound(g.log))
	r.MethodNotAllowed(pipeline.MethodNotAllowed(g.log))

	r.Get("/healthz", g.healthz)
	if g.cfg.Stats.Prometheus {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	opts := pipeline.Options{
		Pipeline:            g.pipeline,
		AddRateLimitHeaders: g.cfg.RateLimit.AddHeaders,
		Log:                 g.log,
		Now:                 deps.Now,
	}
	if g.store != nil {
		opts.RateInfo = g.store
	}

	if g.cfg.Stats.Endpoint {
		r.Method(http.MethodGet, "/_stats", pipeline.Handler(opts, domain.Route{}, g.statsHandler))
	}

	if len(g.cfg.Routes) == 0 {
		return r, nil
	}
	up, err := newUpstream(g.cfg.Upstream, deps.HTTPClient)
	if err != nil {
		return nil, err
	}
	for _, rc := range g.cfg.Routes {
		route, err := rc.toRoute(g.cfg.Validation.UnknownFieldPolicy)
		if err != nil {
			return nil, fmt.Errorf("route %s %s: %w", rc.Method, rc.Path, err)
		}
		r.Method(rc.Method, rc.Path, pipeline.Handler(opts, route, up.handler(rc)))
	}
	return r, nil
}

func (g *gateway) healthz(w http.ResponseWriter, r *http.Request) {
	state := g.shutdown.State()
	if state != domain.StateRunning {
		pipeline.WriteFailure(w, g.log, domain.Fail(domain.KindShuttingDown, "service unavailable, shutting down"))
		return
	}
	pipeline.WriteResponse(w, g.log, domain.Response{
		Status:   http.StatusOK,
		Envelope: domain.NewSuccess(map[string]any{"state": state.String(), "in_flight": g.shutdown.InFlight()}, ""),
	})
}

func (g *gateway) statsHandler(context.Context, *domain.RequestContext) (domain.Result, error) {
	total := g.memStats.Total()
	data := map[string]any{
		"allowed":  total.Allowed,
		"denied":   total.Denied,
		"outcomes": g.memStats.ByOutcome(),
		"routes":   g.memStats.ByRoute(),
	}
	if g.cfg.Stats.TrackKeys {
		data["keys"] = g.memStats.ByKey()
	}
	if g.store != nil {
		data["buckets"] = g.store.Len()
	}
	return domain.Result{Data: data}, nil
}

// serve atende até o ctx encerrar; então drena (novas requisições recebem
// 503 shutting down) e só depois fecha o listener.
func (g *gateway) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              g.cfg.Listen,
		Handler:           g.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	g.log.WithFields(logrus.Fields{
		"listen":   g.cfg.Listen,
		"upstream": g.cfg.Upstream,
		"routes":   len(g.cfg.Routes),
	}).Info("gateway listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	g.drain()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (g *gateway) drain() {
	g.log.WithField("drain_timeout", g.shutdown.DrainTimeout()).Info("draining in-flight requests")
	g.shutdown.BeginDrain()

	// margem para o timer interno do coordenador disparar
	waitCtx, cancel := context.WithTimeout(context.Background(), g.shutdown.DrainTimeout()+time.Second)
	defer cancel()
	if err := g.shutdown.Wait(waitCtx); err != nil {
		g.log.WithField("in_flight", g.shutdown.InFlight()).Warn("drain did not finish in time")
		return
	}
	g.log.Info("drain finished")
}

func (g *gateway) Close() {
	for _, c := range g.closers {
		_ = c()
	}
	g.closers = nil
}

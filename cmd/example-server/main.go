package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/pipeline"
	"admission-gateway/middleware/pipeline/application"
	"admission-gateway/middleware/pipeline/domain"
	"admission-gateway/middleware/pipeline/infra"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

// Exemplo: o pipeline embutido direto num servidor chi (sem proxy).
func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("DEBUG") != "" {
		log.SetLevel(logrus.DebugLevel)
	}

	secret := []byte(getenv("JWT_SECRET", "dev-secret"))
	addr := getenv("LISTEN_ADDR", ":8081")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := newApp(log, secret)
	app.store.StartJanitor(ctx)

	// token de desenvolvimento, para testar as rotas protegidas com curl
	if tok, err := infra.SignHS256(secret, jwt.MapClaims{
		"sub":   "dev",
		"scope": "users:read users:write",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}); err == nil {
		log.WithField("token", tok).Info("development bearer token (1h)")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.shutdown.BeginDrain()
		waitCtx, cancel := context.WithTimeout(context.Background(), app.shutdown.DrainTimeout())
		defer cancel()
		_ = app.shutdown.Wait(waitCtx)

		shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("example server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server error")
	}
}

type app struct {
	store    *infra.Store
	shutdown *application.ShutdownCoordinator
	handler  http.Handler
}

func newApp(log logrus.FieldLogger, secret []byte) *app {
	store := infra.NewStore(10, 5)
	shutdown := application.NewShutdownCoordinator(5 * time.Second)

	p := application.New(application.Options{
		Limiter: store,
		Keys: application.KeyExtractor{
			APIKeyHeader:       "X-Api-Key",
			TrustXForwardedFor: true,
		},
		Verifier:      infra.NewJWTVerifier(secret),
		AuthTimeout:   time.Second,
		UnknownFields: domain.UnknownStrip,
		Shutdown:      shutdown,
		Stats:         infra.NewMemoryStatsStore(),
		Log:           log,
	})
	opts := pipeline.Options{Pipeline: p, RateInfo: store, AddRateLimitHeaders: true, Log: log}

	users := newUserStore()
	r := chi.NewRouter()
	r.NotFound(pipeline.NotFound(log))
	r.MethodNotAllowed(pipeline.MethodNotAllowed(log))

	r.Route("/users", func(r chi.Router) {
		r.Method(http.MethodGet, "/", pipeline.Handler(opts, domain.Route{Schema: listUsersSchema}, users.list))
		r.Method(http.MethodGet, "/{id}", pipeline.Handler(opts, domain.Route{}, users.get))
		r.Method(http.MethodPost, "/", pipeline.Handler(opts, domain.Route{
			AuthRequired:   true,
			RequiredScopes: []string{"users:write"},
			Schema:         createUserSchema,
			Timeout:        2 * time.Second,
		}, users.create))
		r.Method(http.MethodDelete, "/{id}", pipeline.Handler(opts, domain.Route{
			AuthRequired:   true,
			RequiredScopes: []string{"users:write"},
		}, users.remove))
	})

	h := pipeline.ConcurrencyMiddleware(pipeline.ConcurrencyOptions{Max: 50, Log: log})(r)
	return &app{store: store, shutdown: shutdown, handler: h}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

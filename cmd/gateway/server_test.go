package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"admission-gateway/middleware/pipeline/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus/hooks/test"
)

const testSecret = "test-secret"

type upstreamCall struct {
	Method  string
	Path    string
	Query   string
	Body    map[string]any
	Subject string
	ReqID   string
}

type fakeUpstream struct {
	mu    sync.Mutex
	calls []upstreamCall
	srv   *httptest.Server
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	u := &fakeUpstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := upstreamCall{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.RawQuery,
			Subject: r.Header.Get(SubjectHeader),
			ReqID:   r.Header.Get("X-Request-ID"),
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&call.Body)
		}
		u.mu.Lock()
		u.calls = append(u.calls, call)
		u.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":7,"name":"ana"}`)
		case r.URL.Path == "/v1/users/404":
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"nope"}`)
		case r.URL.Path == "/v1/users/500":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `boom: db connection refused`)
		default:
			_, _ = io.WriteString(w, `{"id":"42"}`)
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *fakeUpstream) Calls() []upstreamCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]upstreamCall(nil), u.calls...)
}

func testConfig(upstreamURL string) Config {
	cfg := defaultConfig()
	cfg.Upstream = upstreamURL
	cfg.Auth.JWTSecret = testSecret
	cfg.Stats.Prometheus = true
	cfg.Stats.Endpoint = true
	cfg.RateLimit.AddHeaders = true
	cfg.Routes = []RouteConfig{
		{
			Method: "POST", Path: "/users", AuthRequired: true, Scopes: []string{"users:write"},
			Fields: []FieldConfig{
				{Name: "name", Type: "string", Required: true},
				{Name: "age", Type: "integer", Coerce: true, Rules: "min=0"},
			},
		},
		{Method: "GET", Path: "/users/{id}", UpstreamPath: "/v1/users/{id}"},
	}
	return cfg
}

func newTestGateway(t *testing.T, cfg Config) *gateway {
	t.Helper()
	if err := cfg.check(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger, _ := test.NewNullLogger()
	g, err := newGateway(ctx, cfg, logger, gatewayDeps{})
	if err != nil {
		t.Fatalf("newGateway: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}

func token(t *testing.T, scope string) string {
	t.Helper()
	tok, err := infra.SignHS256([]byte(testSecret), jwt.MapClaims{"sub": "u1", "scope": scope})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func do(g *gateway, method, target, body, bearer string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.RemoteAddr = "10.1.1.1:5555"
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	g.handler.ServeHTTP(w, r)
	return w
}

func envelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("expected JSON envelope, got %q", w.Body.String())
	}
	return m
}

func TestGateway_ForwardsValidatedPayload(t *testing.T) {
	up := newFakeUpstream(t)
	g := newTestGateway(t, testConfig(up.srv.URL))

	w := do(g, http.MethodPost, "/users", `{"name":"ana","age":"30","is_admin":true}`, token(t, "users:write"))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	env := envelope(t, w)
	data, _ := env["data"].(map[string]any)
	if env["success"] != true || data["name"] != "ana" {
		t.Fatalf("expected upstream JSON as data, got %v", env)
	}

	calls := up.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(calls))
	}
	c := calls[0]
	if c.Body["age"] != float64(30) || c.Body["name"] != "ana" {
		t.Fatalf("expected normalized payload, got %v", c.Body)
	}
	if _, leaked := c.Body["is_admin"]; leaked {
		t.Fatalf("expected unknown field to be stripped, got %v", c.Body)
	}
	if c.Subject != "u1" {
		t.Fatalf("expected subject header, got %q", c.Subject)
	}
	if c.ReqID == "" || c.ReqID != w.Header().Get("X-Request-ID") {
		t.Fatalf("expected request id to be propagated, got %q vs %q", c.ReqID, w.Header().Get("X-Request-ID"))
	}
}

func TestGateway_AuthFailuresNeverReachUpstream(t *testing.T) {
	up := newFakeUpstream(t)
	g := newTestGateway(t, testConfig(up.srv.URL))

	if w := do(g, http.MethodPost, "/users", `{"name":"ana"}`, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := do(g, http.MethodPost, "/users", `{"name":"ana"}`, "not-a-jwt"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", w.Code)
	}
	if w := do(g, http.MethodPost, "/users", `{"name":"ana"}`, token(t, "users:read")); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without scope, got %d", w.Code)
	}
	if n := len(up.Calls()); n != 0 {
		t.Fatalf("expected no upstream calls, got %d", n)
	}
}

func TestGateway_ValidationFailureListsEveryField(t *testing.T) {
	up := newFakeUpstream(t)
	g := newTestGateway(t, testConfig(up.srv.URL))

	w := do(g, http.MethodPost, "/users", `{"age":-1}`, token(t, "users:write"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	errBody := envelope(t, w)["error"].(map[string]any)
	if details, _ := errBody["details"].([]any); len(details) != 2 {
		t.Fatalf("expected name and age violations, got %v", errBody)
	}
	if n := len(up.Calls()); n != 0 {
		t.Fatalf("expected no upstream calls, got %d", n)
	}
}

func TestGateway_MalformedBodyOnRouteWithoutFields(t *testing.T) {
	up := newFakeUpstream(t)
	cfg := testConfig(up.srv.URL)
	cfg.Routes = append(cfg.Routes, RouteConfig{Method: "POST", Path: "/notes"})
	g := newTestGateway(t, cfg)

	w := do(g, http.MethodPost, "/notes", `{"title": "x", broken`, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", w.Code, w.Body.String())
	}
	if n := len(up.Calls()); n != 0 {
		t.Fatalf("expected no upstream calls, got %d", n)
	}

	w = do(g, http.MethodPost, "/notes", `{"title":"x"}`, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if calls := up.Calls(); len(calls) != 1 || calls[0].Body["title"] != "x" {
		t.Fatalf("expected raw body to be forwarded, got %+v", calls)
	}
}

func TestGateway_UpstreamErrors(t *testing.T) {
	up := newFakeUpstream(t)
	g := newTestGateway(t, testConfig(up.srv.URL))

	w := do(g, http.MethodGet, "/users/42", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if calls := up.Calls(); calls[0].Path != "/v1/users/42" {
		t.Fatalf("expected upstream path rewrite, got %q", calls[0].Path)
	}

	if w := do(g, http.MethodGet, "/users/404", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = do(g, http.MethodGet, "/users/500", "", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "db connection") {
		t.Fatalf("expected internal error text to be hidden, got %s", w.Body.String())
	}

	if w := do(g, http.MethodGet, "/nope", "", ""); w.Code != http.StatusNotFound || envelope(t, w)["success"] != false {
		t.Fatalf("expected 404 envelope for unknown route, got %d", w.Code)
	}
}

func TestGateway_RateLimitPerIdentity(t *testing.T) {
	up := newFakeUpstream(t)
	cfg := testConfig(up.srv.URL)
	cfg.RateLimit.Capacity = 2
	cfg.RateLimit.RefillPerSecond = 0.001
	g := newTestGateway(t, cfg)

	var codes []int
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = do(g, http.MethodGet, "/users/42", "", "")
		codes = append(codes, last.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != 429 {
		t.Fatalf("expected [200 200 429], got %v", codes)
	}
	if last.Header().Get("Retry-After") == "" || last.Header().Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("expected rate limit headers, got %v", last.Header())
	}

	// outra identidade tem seu próprio bucket
	r := httptest.NewRequest(http.MethodGet, "/users/42", nil)
	r.Header.Set("X-Api-Key", "k2")
	w := httptest.NewRecorder()
	g.handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected other identity to be admitted, got %d", w.Code)
	}
}

func TestGateway_MetricsAndStatsEndpoint(t *testing.T) {
	up := newFakeUpstream(t)
	g := newTestGateway(t, testConfig(up.srv.URL))

	do(g, http.MethodGet, "/users/42", "", "")
	do(g, http.MethodPost, "/users", `{}`, "")

	w := do(g, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pipeline_requests_total") {
		t.Fatalf("expected prometheus metrics, got %d", w.Code)
	}

	w = do(g, http.MethodGet, "/_stats", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from stats endpoint, got %d", w.Code)
	}
	data := envelope(t, w)["data"].(map[string]any)
	outcomes := data["outcomes"].(map[string]any)
	if outcomes["ok"] != float64(1) || outcomes["unauthorized"] != float64(1) {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}
}

func TestGateway_DrainRejectsNewRequests(t *testing.T) {
	up := newFakeUpstream(t)
	g := newTestGateway(t, testConfig(up.srv.URL))

	if w := do(g, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d", w.Code)
	}

	// simula uma requisição em andamento
	if err := g.shutdown.Enter(); err != nil {
		t.Fatalf("enter: %v", err)
	}
	g.shutdown.BeginDrain()

	w := do(g, http.MethodGet, "/users/42", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 during drain, got %d", w.Code)
	}
	msg := envelope(t, w)["error"].(map[string]any)["message"]
	if msg != "service unavailable, shutting down" {
		t.Fatalf("unexpected message %v", msg)
	}
	if w := do(g, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected unhealthy during drain, got %d", w.Code)
	}

	g.shutdown.Leave()
	select {
	case <-g.shutdown.Done():
	default:
		t.Fatalf("expected drain to finish once the last request left")
	}
}

func TestGateway_RedisStats(t *testing.T) {
	mr := miniredis.RunT(t)
	up := newFakeUpstream(t)
	cfg := testConfig(up.srv.URL)
	cfg.Stats.Redis.Enabled = true
	cfg.Stats.Redis.Addr = mr.Addr()
	g := newTestGateway(t, cfg)

	do(g, http.MethodGet, "/users/42", "", "")

	if got := mr.HGet("pipeline:stats:total", "allowed"); got != "1" {
		t.Fatalf("expected redis counter, got %q", got)
	}
	if got := mr.HGet("pipeline:stats:route", "GET /users/{id}:ok"); got != "1" {
		t.Fatalf("expected route counter by pattern, got %q", got)
	}
}

func TestGateway_RedisUnavailableFailsSetup(t *testing.T) {
	cfg := testConfig("http://localhost:1")
	cfg.Stats.Redis.Enabled = true
	cfg.Stats.Redis.Addr = "127.0.0.1:1"

	logger, _ := test.NewNullLogger()
	if _, err := newGateway(context.Background(), cfg, logger, gatewayDeps{}); err == nil {
		t.Fatalf("expected setup to fail when redis is unreachable")
	}
}

func TestCheckConfigCommand(t *testing.T) {
	cmd := newRootCmd()
	var out strings.Builder
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"check-config", "--config", "gateway.example.toml"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("check-config: %v", err)
	}
	if !strings.Contains(out.String(), "configuration OK: 3 route(s)") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

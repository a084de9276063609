package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"admission-gateway/middleware/pipeline/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("expected defaults to be valid, got %v", err)
	}
	if cfg.Listen != ":8080" || cfg.RateLimit.Capacity != 20 || cfg.Shutdown.DrainTimeoutSeconds != 10 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfig_ExampleFile(t *testing.T) {
	cfg, err := loadConfig("gateway.example.toml")
	if err != nil {
		t.Fatalf("expected example config to be valid, got %v", err)
	}
	if len(cfg.Routes) != 3 {
		t.Fatalf("expected 3 routes, got %d", len(cfg.Routes))
	}

	route, err := cfg.Routes[1].toRoute(cfg.Validation.UnknownFieldPolicy)
	if err != nil {
		t.Fatalf("toRoute: %v", err)
	}
	if !route.AuthRequired || route.Timeout != 5*time.Second {
		t.Fatalf("unexpected route %+v", route)
	}
	if route.Schema == nil || len(route.Schema.Fields) != 4 || route.Schema.UnknownFields != domain.UnknownReject {
		t.Fatalf("unexpected schema %+v", route.Schema)
	}
	if addr := route.Schema.Fields[3]; addr.Type != domain.TypeObject || len(addr.Fields) != 1 {
		t.Fatalf("expected nested address object, got %+v", addr)
	}

	page := cfg.Routes[2].Fields[0]
	if page.In != "query" {
		t.Fatalf("expected query field, got %+v", page)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[rate_limit]
capacity = 5
refill_per_second = 1
`)
	t.Setenv("RATE_CAPACITY", "7")
	t.Setenv("SHUTDOWN_DRAIN_TIMEOUT", "3s")
	t.Setenv("RATE_IDENTITY_PRECEDENCE", "ip, apikey")
	t.Setenv("VALIDATION_UNKNOWN_FIELD_POLICY", "reject")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.RateLimit.Capacity != 7 || cfg.RateLimit.RefillPerSecond != 1 {
		t.Fatalf("expected env to win over file, got %+v", cfg.RateLimit)
	}
	if cfg.Shutdown.DrainTimeoutSeconds != 3 {
		t.Fatalf("expected drain timeout 3s, got %v", cfg.Shutdown.DrainTimeoutSeconds)
	}
	if p := cfg.RateLimit.IdentityPrecedence; len(p) != 2 || p[0] != "ip" || p[1] != "apikey" {
		t.Fatalf("unexpected precedence %v", p)
	}
	if cfg.Validation.UnknownFieldPolicy != "reject" {
		t.Fatalf("unexpected policy %q", cfg.Validation.UnknownFieldPolicy)
	}
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"zero drain timeout": `
[shutdown]
drain_timeout_seconds = 0
`,
		"unknown field policy": `
[validation]
unknown_field_policy = "drop"
`,
		"unknown identity source": `
[rate_limit]
identity_precedence = ["cookie"]
`,
		"redis without addr": `
[stats.redis]
enabled = true
`,
		"routes without upstream": `
[[routes]]
method = "GET"
path = "/x"
`,
		"auth without secret": `
upstream = "http://localhost:9000"
[[routes]]
method = "GET"
path = "/x"
auth_required = true
`,
		"unknown rule tag": `
upstream = "http://localhost:9000"
[[routes]]
method = "POST"
path = "/x"
  [[routes.fields]]
  name = "a"
  rules = "not_a_real_tag"
`,
		"unknown field type": `
upstream = "http://localhost:9000"
[[routes]]
method = "POST"
path = "/x"
  [[routes.fields]]
  name = "a"
  type = "uuid"
`,
		"duplicate route": `
upstream = "http://localhost:9000"
[[routes]]
method = "GET"
path = "/x"
[[routes]]
method = "GET"
path = "/x"
`,
		"malformed toml": `listen = `,
	}

	for name, content := range cases {
		if _, err := loadConfig(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

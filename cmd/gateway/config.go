package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"admission-gateway/middleware/pipeline/application"
	"admission-gateway/middleware/pipeline/domain"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config é lida em camadas: defaults, arquivo TOML (--config) e por fim
// variáveis de ambiente, que sempre ganham.
type Config struct {
	Listen   string `toml:"listen" validate:"required"`
	Upstream string `toml:"upstream" validate:"omitempty,url"`

	Log         LogConfig         `toml:"log"`
	RateLimit   RateLimitConfig   `toml:"rate_limit"`
	Auth        AuthConfig        `toml:"auth"`
	Validation  ValidationConfig  `toml:"validation"`
	Shutdown    ShutdownConfig    `toml:"shutdown"`
	Concurrency ConcurrencyConfig `toml:"concurrency"`
	Stats       StatsConfig       `toml:"stats"`
	CORS        CORSConfig        `toml:"cors"`

	Routes []RouteConfig `toml:"routes" validate:"dive"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

type RateLimitConfig struct {
	Enabled             bool    `toml:"enabled"`
	Capacity            int     `toml:"capacity" validate:"gte=0"`
	RefillPerSecond     float64 `toml:"refill_per_second" validate:"gt=0"`
	IdleEvictionSeconds int     `toml:"idle_eviction_seconds" validate:"gte=0"`
	Shards              int     `toml:"shards" validate:"gte=0"`

	// IdentityPrecedence: subject, apikey, ip.
	IdentityPrecedence []string `toml:"identity_precedence" validate:"dive,oneof=subject apikey ip"`
	APIKeyHeader       string   `toml:"api_key_header"`
	SubjectHeader      string   `toml:"subject_header"`
	TrustXFF           bool     `toml:"trust_xff"`
	AddHeaders         bool     `toml:"add_headers"`
}

type AuthConfig struct {
	JWTSecret      string  `toml:"jwt_secret"`
	Issuer         string  `toml:"issuer"`
	Audience       string  `toml:"audience"`
	Header         string  `toml:"header"`
	TimeoutSeconds float64 `toml:"timeout_seconds" validate:"gte=0"`
}

type ValidationConfig struct {
	UnknownFieldPolicy string `toml:"unknown_field_policy" validate:"omitempty,oneof=strip reject"`
}

type ShutdownConfig struct {
	DrainTimeoutSeconds float64 `toml:"drain_timeout_seconds" validate:"gt=0"`
}

type ConcurrencyConfig struct {
	Max                   int     `toml:"max" validate:"gte=0"`
	AcquireTimeoutSeconds float64 `toml:"acquire_timeout_seconds" validate:"gte=0"`
}

type StatsConfig struct {
	Prometheus bool             `toml:"prometheus"`
	Endpoint   bool             `toml:"endpoint"`
	TrackKeys  bool             `toml:"track_keys"`
	Redis      RedisStatsConfig `toml:"redis"`
}

type RedisStatsConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr" validate:"required_if=Enabled true"`
	Password   string `toml:"password"`
	DB         int    `toml:"db" validate:"gte=0"`
	Prefix     string `toml:"prefix"`
	TTLSeconds int    `toml:"ttl_seconds" validate:"gte=0"`
	Bucket     string `toml:"bucket" validate:"oneof=minute none"`
}

type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

type RouteConfig struct {
	Method string `toml:"method" validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Path   string `toml:"path" validate:"required,startswith=/"`
	// UpstreamPath padrão: o próprio path da requisição.
	UpstreamPath       string        `toml:"upstream_path"`
	AuthRequired       bool          `toml:"auth_required"`
	Scopes             []string      `toml:"scopes"`
	TimeoutSeconds     float64       `toml:"timeout_seconds" validate:"gte=0"`
	UnknownFieldPolicy string        `toml:"unknown_field_policy" validate:"omitempty,oneof=strip reject"`
	Fields             []FieldConfig `toml:"fields" validate:"dive"`
}

type FieldConfig struct {
	Name     string        `toml:"name" validate:"required"`
	In       string        `toml:"in" validate:"omitempty,oneof=body query"`
	Type     string        `toml:"type" validate:"omitempty,oneof=any string number float integer int boolean bool object array"`
	Required bool          `toml:"required"`
	Coerce   bool          `toml:"coerce"`
	Rules    string        `toml:"rules"`
	Fields   []FieldConfig `toml:"fields" validate:"dive"`
}

func defaultConfig() Config {
	return Config{
		Listen: ":8080",
		Log:    LogConfig{Level: "info", Format: "text"},
		RateLimit: RateLimitConfig{
			Enabled:             true,
			Capacity:            20,
			RefillPerSecond:     10,
			IdleEvictionSeconds: 900,
			IdentityPrecedence:  []string{"subject", "apikey", "ip"},
			APIKeyHeader:        "X-Api-Key",
		},
		Auth:        AuthConfig{Header: "Authorization", TimeoutSeconds: 2},
		Validation:  ValidationConfig{UnknownFieldPolicy: "strip"},
		Shutdown:    ShutdownConfig{DrainTimeoutSeconds: 10},
		Concurrency: ConcurrencyConfig{Max: 100},
		Stats: StatsConfig{
			Redis: RedisStatsConfig{Prefix: "pipeline:stats", TTLSeconds: 86400, Bucket: "minute"},
		},
	}
}

var validate = validator.New()

// loadConfig monta a configuração. path vazio pula o arquivo.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(content, &cfg); err != nil {
			var derr *toml.DecodeError
			if errors.As(err, &derr) {
				row, col := derr.Position()
				return Config{}, fmt.Errorf("failed to parse config file at line %d, column %d: %s", row, col, derr.Error())
			}
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Listen = getenvDefault("LISTEN_ADDR", cfg.Listen)
	cfg.Upstream = getenvDefault("UPSTREAM_URL", cfg.Upstream)
	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenvDefault("LOG_FORMAT", cfg.Log.Format)

	rl := &cfg.RateLimit
	rl.Enabled = getenvBoolDefault("RATE_ENABLED", rl.Enabled)
	rl.Capacity = getenvIntDefault("RATE_CAPACITY", rl.Capacity)
	rl.RefillPerSecond = getenvFloatDefault("RATE_REFILL_PER_SECOND", rl.RefillPerSecond)
	rl.IdleEvictionSeconds = getenvIntDefault("RATE_IDLE_EVICTION_SECONDS", rl.IdleEvictionSeconds)
	rl.IdentityPrecedence = getenvListDefault("RATE_IDENTITY_PRECEDENCE", rl.IdentityPrecedence)
	rl.APIKeyHeader = getenvDefault("RATE_KEY_HEADER", rl.APIKeyHeader)
	rl.SubjectHeader = getenvDefault("RATE_SUBJECT_HEADER", rl.SubjectHeader)
	rl.TrustXFF = getenvBoolDefault("TRUST_XFF", rl.TrustXFF)
	rl.AddHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", rl.AddHeaders)

	cfg.Auth.JWTSecret = getenvDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.Issuer = getenvDefault("AUTH_JWT_ISSUER", cfg.Auth.Issuer)
	cfg.Auth.Audience = getenvDefault("AUTH_JWT_AUDIENCE", cfg.Auth.Audience)
	cfg.Auth.TimeoutSeconds = getenvDurationDefault("AUTH_TIMEOUT", seconds(cfg.Auth.TimeoutSeconds)).Seconds()

	cfg.Validation.UnknownFieldPolicy = getenvDefault("VALIDATION_UNKNOWN_FIELD_POLICY", cfg.Validation.UnknownFieldPolicy)
	cfg.Shutdown.DrainTimeoutSeconds = getenvDurationDefault("SHUTDOWN_DRAIN_TIMEOUT", seconds(cfg.Shutdown.DrainTimeoutSeconds)).Seconds()

	cfg.Concurrency.Max = getenvIntDefault("CONCURRENCY_MAX", cfg.Concurrency.Max)
	cfg.Concurrency.AcquireTimeoutSeconds = getenvDurationDefault("CONCURRENCY_TIMEOUT", seconds(cfg.Concurrency.AcquireTimeoutSeconds)).Seconds()

	st := &cfg.Stats
	st.Prometheus = getenvBoolDefault("METRICS_ENABLED", st.Prometheus)
	st.TrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", st.TrackKeys)
	st.Redis.Enabled = getenvBoolDefault("RATE_STATS_ENABLED", st.Redis.Enabled)
	st.Redis.Addr = getenvDefault("RATE_STATS_REDIS_ADDR", st.Redis.Addr)
	st.Redis.Password = getenvDefault("RATE_STATS_REDIS_PASSWORD", st.Redis.Password)
	st.Redis.DB = getenvIntDefault("RATE_STATS_REDIS_DB", st.Redis.DB)
	st.Redis.Prefix = getenvDefault("RATE_STATS_PREFIX", st.Redis.Prefix)
	st.Redis.TTLSeconds = int(getenvDurationDefault("RATE_STATS_TTL", time.Duration(st.Redis.TTLSeconds)*time.Second).Seconds())
	st.Redis.Bucket = getenvDefault("RATE_STATS_BUCKET", st.Redis.Bucket)

	cfg.CORS.AllowedOrigins = getenvListDefault("CORS_ALLOWED_ORIGINS", cfg.CORS.AllowedOrigins)
}

// check roda as tags do validator e as regras que dependem de mais de um campo.
func (c Config) check() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if len(c.Routes) > 0 && strings.TrimSpace(c.Upstream) == "" {
		return errors.New("upstream is required when routes are configured (UPSTREAM_URL)")
	}

	seen := map[string]bool{}
	for _, rc := range c.Routes {
		id := rc.Method + " " + rc.Path
		if seen[id] {
			return fmt.Errorf("route %s declared twice", id)
		}
		seen[id] = true

		if rc.AuthRequired && c.Auth.JWTSecret == "" {
			return fmt.Errorf("route %s requires auth but auth.jwt_secret is empty", id)
		}
		route, err := rc.toRoute(c.Validation.UnknownFieldPolicy)
		if err != nil {
			return fmt.Errorf("route %s: %w", id, err)
		}
		if err := application.CheckSchema(route.Schema); err != nil {
			return fmt.Errorf("route %s: %w", id, err)
		}
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// toRoute converte a rota configurada. Sem campos, a rota não tem schema e o
// estágio de validação não roda.
func (rc RouteConfig) toRoute(defaultPolicy string) (domain.Route, error) {
	route := domain.Route{
		AuthRequired:   rc.AuthRequired,
		RequiredScopes: rc.Scopes,
		Timeout:        seconds(rc.TimeoutSeconds),
	}
	if len(rc.Fields) == 0 {
		return route, nil
	}

	fields, err := toFields(rc.Fields)
	if err != nil {
		return domain.Route{}, err
	}

	policyName := rc.UnknownFieldPolicy
	if policyName == "" {
		policyName = defaultPolicy
	}
	policy, ok := domain.ParseUnknownFieldPolicy(policyName)
	if !ok {
		return domain.Route{}, fmt.Errorf("unknown field policy %q", policyName)
	}

	route.Schema = &domain.Schema{Fields: fields, UnknownFields: policy}
	return route, nil
}

func toFields(in []FieldConfig) ([]domain.Field, error) {
	out := make([]domain.Field, 0, len(in))
	for _, fc := range in {
		typ, ok := domain.ParseFieldType(fc.Type)
		if !ok {
			return nil, fmt.Errorf("field %q: unknown type %q", fc.Name, fc.Type)
		}
		loc := domain.InBody
		if fc.In == "query" {
			loc = domain.InQuery
		}
		nested, err := toFields(fc.Fields)
		if err != nil {
			return nil, err
		}
		if len(nested) > 0 && typ != domain.TypeObject {
			return nil, fmt.Errorf("field %q: nested fields require type object", fc.Name)
		}
		out = append(out, domain.Field{
			Name:     fc.Name,
			In:       loc,
			Type:     typ,
			Required: fc.Required,
			Coerce:   fc.Coerce,
			Rules:    fc.Rules,
			Fields:   nested,
		})
	}
	return out, nil
}

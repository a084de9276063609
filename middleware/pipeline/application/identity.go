package application

import (
	"fmt"
	"net"
	"strings"

	"admission-gateway/middleware/pipeline/domain"
)

// IdentitySource é uma das origens possíveis da identidade de admissão.
type IdentitySource string

const (
	// SourceSubject lê o subject de um header preenchido por um proxy
	// autenticador confiável (o token ainda não foi verificado neste ponto).
	SourceSubject IdentitySource = "subject"
	SourceAPIKey  IdentitySource = "apikey"
	SourceIP      IdentitySource = "ip"
)

// DefaultPrecedence: subject > apikey > ip.
var DefaultPrecedence = []IdentitySource{SourceSubject, SourceAPIKey, SourceIP}

// KeyExtractor deriva a identidade de admissão de uma requisição.
//
// A precedência entre as origens é configuração explícita. As chaves recebem
// prefixo da origem ("apikey:", "sub:", "ip:") para que um IP e uma API key
// com o mesmo texto não dividam o mesmo bucket.
type KeyExtractor struct {
	Precedence         []IdentitySource
	APIKeyHeader       string
	SubjectHeader      string
	TrustXForwardedFor bool
}

func ParseIdentitySources(names []string) ([]IdentitySource, error) {
	out := make([]IdentitySource, 0, len(names))
	for _, n := range names {
		src := IdentitySource(strings.ToLower(strings.TrimSpace(n)))
		switch src {
		case SourceSubject, SourceAPIKey, SourceIP:
			out = append(out, src)
		default:
			return nil, fmt.Errorf("unknown identity source %q", n)
		}
	}
	return out, nil
}

func (x KeyExtractor) Extract(r domain.Request) domain.Key {
	precedence := x.Precedence
	if len(precedence) == 0 {
		precedence = DefaultPrecedence
	}

	for _, src := range precedence {
		switch src {
		case SourceSubject:
			if x.SubjectHeader == "" {
				continue
			}
			if v := strings.TrimSpace(r.Header(x.SubjectHeader)); v != "" {
				return domain.Key("sub:" + v)
			}
		case SourceAPIKey:
			if x.APIKeyHeader == "" {
				continue
			}
			if v := strings.TrimSpace(r.Header(x.APIKeyHeader)); v != "" {
				return domain.Key("apikey:" + v)
			}
		case SourceIP:
			if ip := x.clientIP(r); ip != "" {
				return domain.Key("ip:" + ip)
			}
		}
	}
	return "unknown"
}

func (x KeyExtractor) clientIP(r domain.Request) string {
	if x.TrustXForwardedFor {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	// fallback: RemoteAddr
	addr := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(addr)
	if err == nil && host != "" {
		return host
	}
	return addr
}

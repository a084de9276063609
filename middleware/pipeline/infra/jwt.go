package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"admission-gateway/middleware/pipeline/domain"

	"github.com/golang-jwt/jwt/v4"
)

// JWTVerifier valida bearer tokens HMAC (HS256/HS384/HS512).
//
// O subject vem do claim "sub"; os escopos de "scope" (separados por espaço)
// ou "scopes" (lista).
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

type JWTOption func(*JWTVerifier)

func WithIssuer(iss string) JWTOption {
	return func(v *JWTVerifier) { v.issuer = iss }
}

func WithAudience(aud string) JWTOption {
	return func(v *JWTVerifier) { v.audience = aud }
}

func NewJWTVerifier(secret []byte, opts ...JWTOption) *JWTVerifier {
	v := &JWTVerifier{secret: secret}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var _ domain.Verifier = (*JWTVerifier)(nil)

func (v *JWTVerifier) Verify(_ context.Context, credential string) (domain.Principal, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", domain.ErrInvalidCredential, err)
	}

	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return domain.Principal{}, fmt.Errorf("%w: unexpected issuer", domain.ErrInvalidCredential)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return domain.Principal{}, fmt.Errorf("%w: unexpected audience", domain.ErrInvalidCredential)
	}

	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return domain.Principal{}, fmt.Errorf("%w: missing sub claim", domain.ErrInvalidCredential)
	}

	return domain.Principal{
		Subject: sub,
		Scopes:  scopesFromClaims(claims),
		Claims:  claims,
	}, nil
}

func scopesFromClaims(claims jwt.MapClaims) []string {
	var out []string
	if s, ok := claims["scope"].(string); ok {
		out = append(out, strings.Fields(s)...)
	}
	if list, ok := claims["scopes"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// SignHS256 emite um token para testes e ferramentas locais.
func SignHS256(secret []byte, claims jwt.MapClaims) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty secret")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

package application

import (
	"context"
	"errors"
	"strings"

	"admission-gateway/middleware/pipeline/domain"
)

// Authenticator orquestra a verificação do bearer token.
//
// A verificação em si é do Verifier injetado. Credencial ausente ou mal formada
// é rejeitada aqui, sem chamar o Verifier.
type Authenticator struct {
	Verifier domain.Verifier
	// Header padrão: "Authorization".
	Header string
}

func (a Authenticator) Authenticate(ctx context.Context, r domain.Request, requiredScopes []string) (domain.Principal, error) {
	header := a.Header
	if header == "" {
		header = "Authorization"
	}

	token, ok := bearerToken(r.Header(header))
	if !ok {
		return domain.Principal{}, domain.Fail(domain.KindUnauthorized, "missing or malformed bearer credential")
	}
	if a.Verifier == nil {
		return domain.Principal{}, &domain.Failure{Kind: domain.KindUnhandled, Cause: errors.New("authenticator has no verifier")}
	}

	p, err := a.Verifier.Verify(ctx, token)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrForbidden):
		return domain.Principal{}, &domain.Failure{Kind: domain.KindForbidden, Message: "credential does not grant access to this resource", Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Principal{}, &domain.Failure{Kind: domain.KindTimeout, Message: "credential verification timed out", Cause: err}
	default:
		return domain.Principal{}, &domain.Failure{Kind: domain.KindUnauthorized, Message: "invalid credential", Cause: err}
	}

	for _, scope := range requiredScopes {
		if !p.HasScope(scope) {
			return domain.Principal{}, domain.Fail(domain.KindForbidden, "missing required scope "+scope)
		}
	}
	return p, nil
}

func bearerToken(v string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(v), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

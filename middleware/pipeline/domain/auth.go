package domain

import "context"

// Principal é o cliente autenticado.
type Principal struct {
	Subject string
	Scopes  []string
	Claims  map[string]any
}

func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Verifier valida uma credencial (JWT, OAuth introspection, etc).
//
// Deve retornar ErrInvalidCredential para credenciais inválidas e ErrForbidden
// quando a credencial é válida mas não tem permissão.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Principal, error)
}

type VerifierFunc func(ctx context.Context, credential string) (Principal, error)

func (f VerifierFunc) Verify(ctx context.Context, credential string) (Principal, error) {
	return f(ctx, credential)
}

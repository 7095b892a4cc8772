package middleware

import (
	"context"
	"errors"
	"net/http"

	fileGate "github.com/MrEthical07/fileGate"
)

// ErrNoSession is returned by a SessionResolver when the request carries no
// usable session.
var ErrNoSession = errors.New("no session")

// Principal is the signed-in caller.
type Principal struct {
	AccountID int64
	Handle    string
	Role      fileGate.Role
}

// SessionResolver maps a request to its signed-in principal.
type SessionResolver interface {
	Resolve(r *http.Request) (*Principal, error)
}

// ResolverFunc adapts a function to SessionResolver.
type ResolverFunc func(r *http.Request) (*Principal, error)

func (f ResolverFunc) Resolve(r *http.Request) (*Principal, error) {
	return f(r)
}

type principalContextKey struct{}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok
}

// WithPrincipal stores p in ctx. Guards call it; tests may too.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Guard rejects requests without a session and injects the principal.
// When roles is non-empty the principal must hold one of them.
func Guard(resolver SessionResolver, roles ...fileGate.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			p, err := resolver.Resolve(r)
			if err != nil || p == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !hasRole(p, roles) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func hasRole(p *Principal, roles []fileGate.Role) bool {
	if len(roles) == 0 {
		return true
	}
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	return false
}

package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bengobox/signin-service/internal/token"
)

// SessionReader resolves the session attached to a request.
type SessionReader interface {
	Current(r *http.Request) (*token.Claims, bool)
}

// Auth provides session-backed authentication middleware.
type Auth struct {
	sessions SessionReader
}

// NewAuth creates a new instance.
func NewAuth(sessions SessionReader) *Auth {
	return &Auth{sessions: sessions}
}

// RequireSession ensures incoming requests carry a valid session cookie or bearer token.
func (a *Auth) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := a.sessions.Current(r)
		if !ok {
			writeAuthError(w, http.StatusUnauthorized, "not signed in")
			return
		}
		if _, err := claims.AccountID(); err != nil {
			writeAuthError(w, http.StatusUnauthorized, "invalid session")
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": message,
		"code":  "unauthorized",
	})
}

type claimsContextKey struct{}

// ClaimsFromContext extracts session claims stored by middleware.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*token.Claims)
	return claims, ok && claims != nil
}

// WithClaims stores claims in ctx the way RequireSession does.
func WithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

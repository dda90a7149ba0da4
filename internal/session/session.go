package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bengobox/signin-service/internal/config"
	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/services/accounts"
	"github.com/bengobox/signin-service/internal/token"
)

// Tokens mints and validates session tokens.
type Tokens interface {
	MintSession(input token.SessionInput) (string, time.Time, error)
	Parse(tokenString string) (*token.Claims, error)
}

// Manager keeps the signed-in account in a cookie holding a session JWT.
type Manager struct {
	tokens Tokens
	name   string
	secure bool
}

// NewManager builds a cookie session manager.
func NewManager(tokens Tokens, cfg config.TokenConfig) *Manager {
	name := cfg.CookieName
	if name == "" {
		name = "siwe_session"
	}
	return &Manager{tokens: tokens, name: name, secure: cfg.CookieSecure}
}

// Current returns the claims of the request's session, read from the cookie or a bearer header.
func (m *Manager) Current(r *http.Request) (*token.Claims, bool) {
	raw := ""
	if c, err := r.Cookie(m.name); err == nil {
		raw = c.Value
	} else if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		raw = strings.TrimSpace(h[7:])
	}
	if raw == "" {
		return nil, false
	}
	claims, err := m.tokens.Parse(raw)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// CurrentAccountID returns the signed-in account id, if any.
func (m *Manager) CurrentAccountID(r *http.Request) *uuid.UUID {
	claims, ok := m.Current(r)
	if !ok {
		return nil
	}
	id, err := claims.AccountID()
	if err != nil {
		return nil
	}
	return &id
}

// Establish signs account in for provider and sets the session cookie.
func (m *Manager) Establish(w http.ResponseWriter, account *accounts.Account, provider identity.Provider) error {
	raw, exp, err := m.tokens.MintSession(token.SessionInput{
		AccountID: account.ID,
		Email:     account.Email,
		Username:  account.Username,
		Role:      account.Role,
		Provider:  string(provider),
	})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    raw,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear removes the session cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

package signin

import (
	"context"

	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/services/accounts"
)

// Hooks are typed extension points injected at construction. Nil hooks keep the default behaviour.
type Hooks struct {
	accounts.Hooks

	// Scopes overrides the scopes requested from provider p.
	Scopes func(p identity.Provider, scopes []string) []string
	// RedirectBackURI overrides the callback URL registered with provider p.
	RedirectBackURI func(p identity.Provider, uri string) string
	// RedirectAfterLogin overrides the post-login destination.
	RedirectAfterLogin func(ctx context.Context, redirect string, account *accounts.Account) string
	// FailureRedirect overrides the login-surface URL carrying an error message.
	FailureRedirect func(ctx context.Context, redirect string, err error) string
	// ButtonImage overrides the image shown on a provider's sign-in button.
	ButtonImage func(p identity.Provider, url string) string
}

func (h Hooks) scopes(p identity.Provider, def []string) []string {
	if h.Scopes == nil {
		return def
	}
	if out := h.Scopes(p, def); len(out) > 0 {
		return out
	}
	return def
}

func (h Hooks) redirectBackURI(p identity.Provider, uri string) string {
	if h.RedirectBackURI == nil {
		return uri
	}
	return h.RedirectBackURI(p, uri)
}

package signin

import (
	"errors"
	"fmt"

	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/oauth/state"
	"github.com/bengobox/signin-service/internal/providers"
	"github.com/bengobox/signin-service/internal/services/accounts"
)

var (
	// ErrUnsupportedProvider indicates a provider name outside the supported set.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrProviderDisabled indicates the provider is supported but switched off.
	ErrProviderDisabled = errors.New("provider disabled")
	// ErrMissingParameters indicates a callback without code or state.
	ErrMissingParameters = errors.New("missing code or state")
	// ErrInvalidState indicates decoded state that names no provider or another provider than the callback.
	ErrInvalidState = errors.New("invalid oauth state")
)

// ProviderError is reported when the provider redirected back with an error parameter.
type ProviderError struct {
	Provider    identity.Provider
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider returned error %q: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("provider returned error %q", e.Code)
}

// Outcome is a short, stable label for metrics and audit records.
func Outcome(err error) string {
	var pe *ProviderError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &pe):
		return "provider_error"
	case errors.Is(err, ErrUnsupportedProvider):
		return "unsupported_provider"
	case errors.Is(err, ErrProviderDisabled):
		return "provider_disabled"
	case errors.Is(err, ErrMissingParameters):
		return "missing_parameters"
	case errors.Is(err, ErrInvalidState), errors.Is(err, state.ErrMalformedState):
		return "invalid_state"
	case errors.Is(err, providers.ErrConfig):
		return "config_error"
	case errors.Is(err, providers.ErrEmptyCode), errors.Is(err, providers.ErrTokenExchange):
		return "token_exchange_error"
	case errors.Is(err, providers.ErrProfileFetch):
		return "profile_fetch_error"
	case errors.Is(err, accounts.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, accounts.ErrForbiddenDomain):
		return "forbidden_domain"
	case errors.Is(err, accounts.ErrRegistrationDisabled):
		return "registration_disabled"
	case errors.Is(err, accounts.ErrHiddenEmailForbidden):
		return "hidden_email_forbidden"
	case errors.Is(err, accounts.ErrMissingEmail):
		return "missing_email"
	}
	return "internal_error"
}

// Message converts err into the message shown on the login surface. It never exposes internal details.
func Message(err error) string {
	var pe *ProviderError
	var de *accounts.DomainError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return "Could not validate user : " + pe.Code
	case errors.Is(err, ErrUnsupportedProvider):
		return "Invalid sign-in provider"
	case errors.Is(err, ErrProviderDisabled):
		return "Login is disabled for this provider"
	case errors.Is(err, ErrMissingParameters):
		return "No state or code provided"
	case errors.Is(err, ErrInvalidState), errors.Is(err, state.ErrMalformedState):
		return "Invalid sign-in state, please try again"
	case errors.Is(err, providers.ErrConfig):
		return "Sign-in is not configured for this provider"
	case errors.Is(err, providers.ErrEmptyCode), errors.Is(err, providers.ErrTokenExchange):
		return "Could not validate user with the provider"
	case errors.Is(err, providers.ErrProfileFetch):
		return "Could not validate user, no provider userdata"
	case errors.Is(err, accounts.ErrPermissionDenied):
		return "Forbidden for user"
	case errors.As(err, &de) && errors.Is(err, accounts.ErrForbiddenDomain):
		return "Forbidden domain was used: " + de.Domain
	case errors.As(err, &de) && errors.Is(err, accounts.ErrRegistrationDisabled):
		return "Registrations forbidden: " + de.Domain
	case errors.Is(err, accounts.ErrHiddenEmailForbidden):
		return "Hidden emails are not allowed by website administrator. You can visit https://account.apple.com/account/manage > \"Sign in with Apple\" and stop using this service, then try to log in again"
	case errors.Is(err, accounts.ErrMissingEmail):
		return "The provider did not share an email address"
	}
	return "Sign-in failed, please try again"
}

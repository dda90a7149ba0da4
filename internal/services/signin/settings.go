package signin

import (
	"context"
	"time"

	"github.com/bengobox/signin-service/internal/config"
	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/providers"
	"github.com/bengobox/signin-service/internal/services/accounts"
)

// Settings is the read-only configuration snapshot a single request works against.
type Settings struct {
	Enabled              map[identity.Provider]bool
	Policy               accounts.Policy
	SiteURL              string
	CallbackURL          string
	LoginURL             string
	DefaultRedirect      string
	RedirectAllowedHosts []string
	ProviderTimeout      time.Duration
}

// IsEnabled reports whether p is switched on.
func (s Settings) IsEnabled(p identity.Provider) bool {
	return s.Enabled[p]
}

// SettingsSource resolves the snapshot once per request.
type SettingsSource interface {
	Settings(ctx context.Context) (Settings, error)
}

// SettingsFunc adapts a function to SettingsSource.
type SettingsFunc func(ctx context.Context) (Settings, error)

func (f SettingsFunc) Settings(ctx context.Context) (Settings, error) { return f(ctx) }

// StaticSettings always returns s.
func StaticSettings(s Settings) SettingsSource {
	return SettingsFunc(func(context.Context) (Settings, error) { return s, nil })
}

// SettingsFromConfig builds the snapshot from environment configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	sc := cfg.SignIn
	timeout := sc.ProviderTimeout
	if timeout <= 0 {
		timeout = providers.DefaultTimeout
	}
	return Settings{
		Enabled: map[identity.Provider]bool{
			identity.ProviderGoogle:    cfg.Providers.Google.Enabled,
			identity.ProviderMicrosoft: cfg.Providers.Microsoft.Enabled,
			identity.ProviderApple:     cfg.Providers.Apple.Enabled,
		},
		Policy: accounts.Policy{
			Domains:             accounts.DomainPolicy{Allowed: sc.AllowedDomains, Forbidden: sc.ForbiddenDomains},
			RegistrationAllowed: sc.UsersCanRegister || sc.AllowRegistrationEvenIfDisabled,
			SanitizeGoogleEmail: sc.SanitizeGoogleEmail,
			ForbidHiddenEmail:   cfg.Providers.Apple.ForbidHiddenEmail,
			DefaultRole:         sc.DefaultRole,
			PasswordLength:      sc.PasswordLength,
			SaveRemoteInfo:      sc.SaveRemoteInfo,
		},
		SiteURL:              cfg.App.SiteURL,
		CallbackURL:          cfg.CallbackURL(),
		LoginURL:             sc.LoginURL,
		DefaultRedirect:      sc.DefaultRedirect,
		RedirectAllowedHosts: sc.RedirectAllowedHosts,
		ProviderTimeout:      timeout,
	}
}

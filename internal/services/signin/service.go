package signin

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/bengobox/signin-service/internal/audit"
	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/metrics"
	"github.com/bengobox/signin-service/internal/oauth/state"
	"github.com/bengobox/signin-service/internal/providers"
	"github.com/bengobox/signin-service/internal/services/accounts"
)

// Service drives the provider-agnostic sign-in flow: authorization redirect out, callback in.
type Service struct {
	registry  *providers.Registry
	codec     state.Codec
	store     accounts.Store
	resolver  *accounts.Resolver
	settings  SettingsSource
	hooks     Hooks
	auditor   *audit.Logger
	metrics   *metrics.Metrics
	logger    *zap.Logger
	sanitizer *bluemonday.Policy
}

// Dependencies aggregates constructor inputs.
type Dependencies struct {
	Registry *providers.Registry
	Codec    state.Codec
	Store    accounts.Store
	Hasher   accounts.PasswordHasher
	Settings SettingsSource
	Hooks    Hooks
	Auditor  *audit.Logger
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// New initialises the sign-in service.
func New(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	codec := deps.Codec
	if codec == nil {
		codec = state.PlainCodec{}
	}
	return &Service{
		registry: deps.Registry,
		codec:    codec,
		store:    deps.Store,
		resolver: accounts.NewResolver(accounts.Dependencies{
			Store:  deps.Store,
			Hasher: deps.Hasher,
			Hooks:  deps.Hooks.Hooks,
			Logger: logger,
		}),
		settings:  deps.Settings,
		hooks:     deps.Hooks,
		auditor:   deps.Auditor,
		metrics:   deps.Metrics,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// RequestMeta identifies the client for audit records.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// CallbackInput is what the provider sent back, plus the caller's session.
type CallbackInput struct {
	// Provider is the provider named by the callback route, if any. The state always names one.
	Provider         string
	Code             string
	State            string
	Error            string
	ErrorDescription string
	CurrentAccountID *uuid.UUID
	Meta             RequestMeta
}

// Result is the outcome of CompleteAuth. RedirectTo is always set.
type Result struct {
	Phase      Phase
	RedirectTo string
	Account    *accounts.Account
	Identity   *identity.Identity
	Created    bool
}

// BeginAuth returns the authorization URL for provider, remembering redirectHint as the post-login destination.
func (s *Service) BeginAuth(ctx context.Context, provider, redirectHint string) (string, error) {
	return s.BeginAuthWithState(ctx, provider, state.AuthState{AfterLoginRedirect: redirectHint}, RequestMeta{})
}

// BeginAuthWithState is BeginAuth with full control over the carried state. The provider field is always overwritten.
func (s *Service) BeginAuthWithState(ctx context.Context, provider string, st state.AuthState, meta RequestMeta) (string, error) {
	url, p, err := s.beginAuth(ctx, provider, st)
	s.metrics.AuthBegin(metricLabel(p, provider), Outcome(err))
	if err != nil {
		s.logger.Info("sign-in start rejected", zap.String("provider", provider), zap.Error(err))
		return "", err
	}
	s.auditor.Record(ctx, audit.Entry{
		Action:    "auth.oauth." + string(p) + ".start",
		Provider:  string(p),
		Resource:  "oauth_state",
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return url, nil
}

func (s *Service) beginAuth(ctx context.Context, provider string, st state.AuthState) (string, identity.Provider, error) {
	p, adapter, err := s.adapter(provider)
	if err != nil {
		return "", p, err
	}
	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return "", p, fmt.Errorf("load settings: %w", err)
	}
	if !settings.IsEnabled(p) {
		return "", p, fmt.Errorf("%w: %s", ErrProviderDisabled, p)
	}

	st.Provider = p
	encoded, err := s.codec.Encode(st)
	if err != nil {
		return "", p, fmt.Errorf("encode oauth state: %w", err)
	}
	scopes := s.hooks.scopes(p, adapter.DefaultScopes())
	url, err := adapter.AuthCodeURL(encoded, scopes, s.hooks.redirectBackURI(p, settings.CallbackURL))
	if err != nil {
		if errors.Is(err, providers.ErrConfig) {
			s.logger.Error("provider misconfigured", zap.String("provider", p.String()), zap.Error(err))
		}
		return "", p, err
	}
	return url, p, nil
}

// CompleteAuth validates the callback, exchanges the code, resolves the account and computes the redirect.
// Failures still return a Result whose RedirectTo carries the user-facing message.
func (s *Service) CompleteAuth(ctx context.Context, in CallbackInput) (*Result, error) {
	settings, err := s.settings.Settings(ctx)
	if err != nil {
		err = fmt.Errorf("load settings: %w", err)
		s.logger.Error("sign-in settings unavailable", zap.Error(err))
		return &Result{Phase: PhaseFailed, RedirectTo: s.failureRedirect(ctx, Settings{LoginURL: "/"}, err)}, err
	}

	res, p, err := s.completeAuth(ctx, settings, in)
	label := metricLabel(p, in.Provider)
	s.metrics.AuthComplete(label, Outcome(err))
	if err != nil {
		s.logFailure(label, err)
		s.auditor.Record(ctx, audit.Entry{
			Action:    "auth.oauth." + label + ".failure",
			Provider:  label,
			Resource:  "sign_in",
			IPAddress: in.Meta.IPAddress,
			UserAgent: in.Meta.UserAgent,
			Context:   map[string]any{"outcome": Outcome(err)},
		})
		return &Result{Phase: PhaseFailed, RedirectTo: s.failureRedirect(ctx, settings, err)}, err
	}
	return res, nil
}

func (s *Service) completeAuth(ctx context.Context, settings Settings, in CallbackInput) (*Result, identity.Provider, error) {
	pathProvider, _ := identity.ParseProvider(in.Provider)
	if in.Provider != "" && pathProvider == "" {
		return nil, "", ErrUnsupportedProvider
	}
	if in.Error != "" {
		return nil, pathProvider, &ProviderError{
			Provider:    pathProvider,
			Code:        s.plainText(in.Error),
			Description: s.plainText(in.ErrorDescription),
		}
	}
	if in.Code == "" || in.State == "" {
		return nil, pathProvider, ErrMissingParameters
	}

	st, err := s.codec.Decode(in.State)
	if err != nil {
		return nil, pathProvider, err
	}
	p, ok := identity.ParseProvider(string(st.Provider))
	if !ok {
		return nil, pathProvider, fmt.Errorf("%w: state names provider %q", ErrInvalidState, st.Provider)
	}
	if pathProvider != "" && pathProvider != p {
		return nil, p, fmt.Errorf("%w: callback for %s carries state for %s", ErrInvalidState, pathProvider, p)
	}
	st.Provider = p

	_, adapter, err := s.adapter(string(p))
	if err != nil {
		return nil, p, err
	}
	if !settings.IsEnabled(p) {
		return nil, p, fmt.Errorf("%w: %s", ErrProviderDisabled, p)
	}

	id, err := s.fetchIdentity(ctx, settings, adapter, in.Code)
	if err != nil {
		return nil, p, err
	}
	// an abandoned request must not create accounts
	if err := ctx.Err(); err != nil {
		return nil, p, fmt.Errorf("sign-in abandoned: %w", err)
	}

	res, err := s.resolver.Resolve(ctx, accounts.Request{
		Identity:         id,
		CurrentAccountID: in.CurrentAccountID,
		Policy:           settings.Policy,
	})
	if err != nil {
		return nil, p, err
	}

	s.auditor.Record(ctx, audit.Entry{
		AccountID:  &res.Account.ID,
		Action:     "auth.oauth." + string(p) + ".success",
		Provider:   string(p),
		Resource:   "account",
		ResourceID: res.Account.ID.String(),
		IPAddress:  in.Meta.IPAddress,
		UserAgent:  in.Meta.UserAgent,
		Context:    map[string]any{"created": res.Created, "linked": res.LinkCreated},
	})
	if res.LinkCreated {
		s.auditor.Record(ctx, audit.Entry{
			AccountID:  &res.Account.ID,
			Action:     "auth.oauth." + string(p) + ".link",
			Provider:   string(p),
			Resource:   "account_link",
			ResourceID: res.Account.ID.String(),
			IPAddress:  in.Meta.IPAddress,
			UserAgent:  in.Meta.UserAgent,
		})
	}

	return &Result{
		Phase:      PhaseResolved,
		RedirectTo: s.successRedirect(ctx, settings, st, res.Account),
		Account:    res.Account,
		Identity:   id,
		Created:    res.Created,
	}, p, nil
}

// fetchIdentity runs exchange then profile fetch sequentially, each bounded by the provider timeout.
func (s *Service) fetchIdentity(ctx context.Context, settings Settings, adapter providers.Provider, code string) (*identity.Identity, error) {
	p := adapter.Name()
	redirectURI := s.hooks.redirectBackURI(p, settings.CallbackURL)

	token, err := s.exchange(ctx, settings.ProviderTimeout, adapter, code, redirectURI)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, settings.ProviderTimeout)
	defer cancel()
	started := time.Now()
	raw, err := adapter.FetchProfile(callCtx, token)
	s.metrics.ProviderCall(string(p), "profile", started, err)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, providers.ProfileFetchError(p, errors.New("provider returned no user data"))
	}

	id, err := adapter.Normalize(raw)
	if err != nil {
		return nil, providers.ProfileFetchError(p, err)
	}
	return id, nil
}

func (s *Service) exchange(ctx context.Context, timeout time.Duration, adapter providers.Provider, code, redirectURI string) (*oauth2.Token, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	started := time.Now()
	token, err := adapter.Exchange(callCtx, code, redirectURI)
	s.metrics.ProviderCall(string(adapter.Name()), "exchange", started, err)
	if err != nil {
		return nil, err
	}
	if providers.EmptyToken(token) {
		return nil, providers.TokenExchangeError(adapter.Name(), errors.New("empty access token"))
	}
	return token, nil
}

func (s *Service) adapter(name string) (identity.Provider, providers.Provider, error) {
	p, ok := identity.ParseProvider(name)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	adapter, ok := s.registry.Get(p)
	if !ok {
		return p, nil, fmt.Errorf("%w: %s has no adapter", ErrUnsupportedProvider, p)
	}
	return p, adapter, nil
}

// plainText strips markup from provider supplied values, which come straight from the query string.
func (s *Service) plainText(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(v)))
}

func (s *Service) logFailure(provider string, err error) {
	fields := []zap.Field{zap.String("provider", provider), zap.String("outcome", Outcome(err)), zap.Error(err)}
	switch Outcome(err) {
	case "config_error", "internal_error":
		s.logger.Error("sign-in failed", fields...)
	default:
		s.logger.Info("sign-in rejected", fields...)
	}
}

// metricLabel keeps metric cardinality bounded to known providers.
func metricLabel(p identity.Provider, raw string) string {
	if p != "" {
		return string(p)
	}
	if _, ok := identity.ParseProvider(raw); ok {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return "unknown"
}

package google

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/bengobox/signin-service/internal/config"
	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/providers"
)

const userInfoURL = "https://www.googleapis.com/userinfo/v2/me"

var defaultScopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// fields maps the userinfo v2 payload onto an Identity.
var fields = identity.FieldMap{
	Subject:   "id",
	Email:     "email",
	FirstName: "given_name",
	LastName:  "family_name",
	FullName:  "name",
}

// Provider wraps Google OAuth operations.
type Provider struct {
	cfg         config.GoogleProviderConfig
	endpoint    oauth2.Endpoint
	userInfoURL string
	httpClient  *http.Client
}

// New creates the Google adapter. Missing credentials are reported when the adapter is used.
func New(cfg config.ProvidersConfig, opts providers.Options) (providers.Provider, error) {
	p := &Provider{
		cfg:         cfg.Google,
		endpoint:    opts.EndpointOr(google.Endpoint),
		userInfoURL: userInfoURL,
		httpClient:  opts.Client(),
	}
	if opts.ProfileURL != "" {
		p.userInfoURL = opts.ProfileURL
	}
	return p, nil
}

func (p *Provider) Name() identity.Provider { return identity.ProviderGoogle }

func (p *Provider) DefaultScopes() []string { return append([]string(nil), defaultScopes...) }

func (p *Provider) oauthConfig(redirectURI string, scopes []string) (*oauth2.Config, error) {
	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" {
		return nil, providers.ConfigError(identity.ProviderGoogle, "client id", "client secret")
	}
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       providers.Scopes(scopes, defaultScopes),
		Endpoint:     p.endpoint,
	}, nil
}

// AuthCodeURL constructs the Google authorization URL. The account chooser is always shown.
func (p *Provider) AuthCodeURL(state string, scopes []string, redirectURI string) (string, error) {
	oc, err := p.oauthConfig(redirectURI, scopes)
	if err != nil {
		return "", err
	}
	return oc.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account")), nil
}

// Exchange swaps the authorization code for tokens.
func (p *Provider) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	if code == "" {
		return nil, providers.ErrEmptyCode
	}
	oc, err := p.oauthConfig(redirectURI, nil)
	if err != nil {
		return nil, err
	}
	token, err := oc.Exchange(providers.WithClient(ctx, p.httpClient), code)
	if err != nil {
		return nil, providers.TokenExchangeError(identity.ProviderGoogle, err)
	}
	return token, nil
}

// FetchProfile obtains the Google user info using the provided token.
func (p *Provider) FetchProfile(ctx context.Context, token *oauth2.Token) (identity.RawProfile, error) {
	if providers.EmptyToken(token) {
		return nil, nil
	}
	client := oauth2.NewClient(providers.WithClient(ctx, p.httpClient), oauth2.StaticTokenSource(token))
	raw, err := providers.GetJSON(ctx, client, p.userInfoURL)
	if err != nil {
		return nil, providers.ProfileFetchError(identity.ProviderGoogle, err)
	}
	return raw, nil
}

// Normalize maps the userinfo payload onto an Identity.
func (p *Provider) Normalize(raw identity.RawProfile) (*identity.Identity, error) {
	return identity.Normalize(identity.ProviderGoogle, raw, fields)
}

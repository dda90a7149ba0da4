package microsoft

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/bengobox/signin-service/internal/config"
	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/providers"
)

const graphMeURL = "https://graph.microsoft.com/v1.0/me"

var defaultScopes = []string{"User.Read"}

// oidcFields applies to id_token claims, recognised by preferred_username.
var oidcFields = identity.FieldMap{
	Subject:  "oid",
	Email:    "email",
	FullName: "name",
}

// graphFields applies to the Graph /me resource.
var graphFields = identity.FieldMap{
	Subject:   "id",
	Email:     "userPrincipalName",
	FirstName: "givenName",
	LastName:  "surname",
	FullName:  "displayName",
}

// Provider wraps Microsoft identity platform (v2 endpoints) operations.
type Provider struct {
	cfg        config.MicrosoftProviderConfig
	endpoint   oauth2.Endpoint
	meURL      string
	httpClient *http.Client
}

// New creates the Microsoft adapter for the configured tenant.
func New(cfg config.ProvidersConfig, opts providers.Options) (providers.Provider, error) {
	tenant := cfg.Microsoft.Tenant
	if tenant == "" {
		tenant = "common"
	}
	p := &Provider{
		cfg:        cfg.Microsoft,
		endpoint:   opts.EndpointOr(microsoft.AzureADEndpoint(tenant)),
		meURL:      graphMeURL,
		httpClient: opts.Client(),
	}
	if opts.ProfileURL != "" {
		p.meURL = opts.ProfileURL
	}
	return p, nil
}

func (p *Provider) Name() identity.Provider { return identity.ProviderMicrosoft }

func (p *Provider) DefaultScopes() []string { return append([]string(nil), defaultScopes...) }

func (p *Provider) oauthConfig(redirectURI string, scopes []string) (*oauth2.Config, error) {
	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" {
		return nil, providers.ConfigError(identity.ProviderMicrosoft, "client id", "client secret")
	}
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       providers.Scopes(scopes, defaultScopes),
		Endpoint:     p.endpoint,
	}, nil
}

// AuthCodeURL constructs the Microsoft authorization URL.
func (p *Provider) AuthCodeURL(state string, scopes []string, redirectURI string) (string, error) {
	oc, err := p.oauthConfig(redirectURI, scopes)
	if err != nil {
		return "", err
	}
	return oc.AuthCodeURL(state), nil
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
		return nil, providers.TokenExchangeError(identity.ProviderMicrosoft, err)
	}
	return token, nil
}

// FetchProfile returns the id_token claims when the grant included openid, profile and email,
// and the Graph /me resource otherwise.
func (p *Provider) FetchProfile(ctx context.Context, token *oauth2.Token) (identity.RawProfile, error) {
	if providers.EmptyToken(token) {
		return nil, nil
	}
	if claims, ok := idTokenClaims(token); ok {
		return claims, nil
	}
	client := oauth2.NewClient(providers.WithClient(ctx, p.httpClient), oauth2.StaticTokenSource(token))
	raw, err := providers.GetJSON(ctx, client, p.meURL)
	if err != nil {
		return nil, providers.ProfileFetchError(identity.ProviderMicrosoft, err)
	}
	return raw, nil
}

// Normalize branches on preferred_username to choose between the OIDC claims and Graph mappings.
func (p *Provider) Normalize(raw identity.RawProfile) (*identity.Identity, error) {
	if raw.Has("preferred_username") {
		return identity.Normalize(identity.ProviderMicrosoft, raw, oidcFields)
	}
	return identity.Normalize(identity.ProviderMicrosoft, raw, graphFields)
}

// idTokenClaims reads the id_token returned directly by the token endpoint over TLS.
func idTokenClaims(token *oauth2.Token) (identity.RawProfile, bool) {
	granted, _ := token.Extra("scope").(string)
	scopes := strings.Fields(granted)
	for _, s := range []string{"openid", "profile", "email"} {
		if !slices.Contains(scopes, s) {
			return nil, false
		}
	}
	raw, _ := token.Extra("id_token").(string)
	if raw == "" {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, false
	}
	return identity.RawProfile(claims), true
}

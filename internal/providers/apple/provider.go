package apple

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"

	"github.com/bengobox/signin-service/internal/config"
	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/providers"
)

const (
	issuer  = "https://appleid.apple.com"
	keysURL = "https://appleid.apple.com/auth/keys"

	clientSecretTTL = 5 * time.Minute
)

// Endpoint is Sign in with Apple's OAuth2 endpoint. Apple expects client credentials in the form body.
var Endpoint = oauth2.Endpoint{
	AuthURL:   "https://appleid.apple.com/auth/authorize",
	TokenURL:  "https://appleid.apple.com/auth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

var defaultScopes = []string{"name", "email"}

var fields = identity.FieldMap{
	Subject:   "sub",
	Email:     "email",
	FirstName: "first_name",
	LastName:  "last_name",
	FullName:  "name",
}

// Provider implements Sign in with Apple. The client secret is an ES256 assertion signed with the team's key,
// and the profile is the verified id_token returned by the token endpoint.
type Provider struct {
	cfg        config.AppleProviderConfig
	endpoint   oauth2.Endpoint
	httpClient *http.Client
	keys       *keySet

	signingKey *ecdsa.PrivateKey
	keyErr     error
	now        func() time.Time
}

// New creates the Apple adapter. An unparsable private key is reported when the adapter is used.
func New(cfg config.ProvidersConfig, opts providers.Options) (providers.Provider, error) {
	url := keysURL
	if opts.KeysURL != "" {
		url = opts.KeysURL
	}
	client := opts.Client()
	p := &Provider{
		cfg:        cfg.Apple,
		endpoint:   opts.EndpointOr(Endpoint),
		httpClient: client,
		keys:       newKeySet(url, client, gocache.New(time.Hour, 10*time.Minute)),
		now:        time.Now,
	}
	if cfg.Apple.PrivateKey != "" {
		p.signingKey, p.keyErr = jwt.ParseECPrivateKeyFromPEM([]byte(cfg.Apple.PrivateKey))
	}
	return p, nil
}

func (p *Provider) Name() identity.Provider { return identity.ProviderApple }

func (p *Provider) DefaultScopes() []string { return append([]string(nil), defaultScopes...) }

func (p *Provider) checkConfig() error {
	var missing []string
	if p.cfg.ClientID == "" {
		missing = append(missing, "client id")
	}
	if p.cfg.TeamID == "" {
		missing = append(missing, "team id")
	}
	if p.cfg.KeyID == "" {
		missing = append(missing, "key id")
	}
	if p.cfg.PrivateKey == "" {
		missing = append(missing, "private key")
	}
	if len(missing) > 0 {
		return providers.ConfigError(identity.ProviderApple, missing...)
	}
	if p.keyErr != nil {
		return fmt.Errorf("parse apple private key: %w: %w", providers.ErrConfig, p.keyErr)
	}
	return nil
}

// clientSecret signs the short-lived assertion Apple accepts in place of a static secret.
func (p *Provider) clientSecret() (string, error) {
	now := p.now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:    p.cfg.TeamID,
		Subject:   p.cfg.ClientID,
		Audience:  jwt.ClaimStrings{issuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(clientSecretTTL)),
	})
	token.Header["kid"] = p.cfg.KeyID
	signed, err := token.SignedString(p.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign apple client secret: %w", err)
	}
	return signed, nil
}

func (p *Provider) oauthConfig(redirectURI string, scopes []string) (*oauth2.Config, error) {
	if err := p.checkConfig(); err != nil {
		return nil, err
	}
	return &oauth2.Config{
		ClientID:    p.cfg.ClientID,
		RedirectURL: redirectURI,
		Scopes:      providers.Scopes(scopes, defaultScopes),
		Endpoint:    p.endpoint,
	}, nil
}

// AuthCodeURL constructs the Apple authorization URL. Apple posts the callback as a form when scopes are requested.
func (p *Provider) AuthCodeURL(state string, scopes []string, redirectURI string) (string, error) {
	oc, err := p.oauthConfig(redirectURI, scopes)
	if err != nil {
		return "", err
	}
	return oc.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "form_post")), nil
}

// Exchange swaps the authorization code for tokens using a freshly signed client secret.
func (p *Provider) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	if code == "" {
		return nil, providers.ErrEmptyCode
	}
	oc, err := p.oauthConfig(redirectURI, nil)
	if err != nil {
		return nil, err
	}
	secret, err := p.clientSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", providers.ErrConfig, err)
	}
	oc.ClientSecret = secret
	token, err := oc.Exchange(providers.WithClient(ctx, p.httpClient), code)
	if err != nil {
		return nil, providers.TokenExchangeError(identity.ProviderApple, err)
	}
	return token, nil
}

// FetchProfile verifies the id_token and returns its claims. Apple has no user-info endpoint.
func (p *Provider) FetchProfile(ctx context.Context, token *oauth2.Token) (identity.RawProfile, error) {
	if providers.EmptyToken(token) {
		return nil, nil
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, providers.ProfileFetchError(identity.ProviderApple, fmt.Errorf("token response has no id_token"))
	}
	claims, err := p.verifyIDToken(ctx, rawIDToken)
	if err != nil {
		return nil, providers.ProfileFetchError(identity.ProviderApple, err)
	}
	raw := identity.RawProfile(claims)
	raw["isPrivateEmail"] = raw.Bool("is_private_email")
	return raw, nil
}

func (p *Provider) verifyIDToken(ctx context.Context, raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return p.keys.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(p.cfg.ClientID),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	return claims, nil
}

// Normalize maps id_token claims onto an Identity. Names are only present when a hook supplied them.
func (p *Provider) Normalize(raw identity.RawProfile) (*identity.Identity, error) {
	return identity.Normalize(identity.ProviderApple, raw, fields)
}

// IsHiddenEmail reports whether raw describes an Apple private relay address.
func IsHiddenEmail(raw identity.RawProfile) bool {
	return raw.Bool("isPrivateEmail") || raw.Bool("is_private_email")
}

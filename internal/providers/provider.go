package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/bengobox/signin-service/internal/identity"
)

// Adapter error taxonomy. Adapters wrap these so callers can branch with errors.Is.
var (
	// ErrConfig indicates the provider is missing credentials or has an unusable key.
	ErrConfig = errors.New("provider not configured")
	// ErrEmptyCode is returned before any network call when the authorization code is blank.
	ErrEmptyCode = errors.New("authorization code is empty")
	// ErrTokenExchange wraps failures of the code-for-token call, including provider error bodies.
	ErrTokenExchange = errors.New("token exchange failed")
	// ErrProfileFetch wraps failures of the user-info call.
	ErrProfileFetch = errors.New("profile fetch failed")
)

// DefaultTimeout bounds every outbound provider call.
const DefaultTimeout = 10 * time.Second

// Provider is the capability set every identity provider adapter implements.
type Provider interface {
	Name() identity.Provider
	DefaultScopes() []string
	// AuthCodeURL builds the authorization endpoint URL carrying the encoded state.
	AuthCodeURL(state string, scopes []string, redirectURI string) (string, error)
	// Exchange swaps an authorization code for a token. redirectURI must match the one used for AuthCodeURL.
	Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)
	// FetchProfile returns the raw user payload, or nil when token is empty.
	FetchProfile(ctx context.Context, token *oauth2.Token) (identity.RawProfile, error)
	Normalize(raw identity.RawProfile) (*identity.Identity, error)
}

// Options carries plumbing shared by adapters. Zero values select production endpoints.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Endpoint   oauth2.Endpoint
	ProfileURL string
	KeysURL    string
}

// Client returns the HTTP client adapters should use for outbound calls.
func (o Options) Client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// EndpointOr returns the configured endpoint, or def when none was set.
func (o Options) EndpointOr(def oauth2.Endpoint) oauth2.Endpoint {
	if o.Endpoint.AuthURL == "" && o.Endpoint.TokenURL == "" {
		return def
	}
	return o.Endpoint
}

// WithClient makes oauth2 use client for calls made with the returned context.
func WithClient(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// TokenExchangeError wraps err as an ErrTokenExchange for provider p.
func TokenExchangeError(p identity.Provider, err error) error {
	return fmt.Errorf("exchange %s oauth code: %w: %w", p, ErrTokenExchange, err)
}

// ProfileFetchError wraps err as an ErrProfileFetch for provider p.
func ProfileFetchError(p identity.Provider, err error) error {
	return fmt.Errorf("fetch %s profile: %w: %w", p, ErrProfileFetch, err)
}

// ConfigError reports which settings of provider p are missing.
func ConfigError(p identity.Provider, missing ...string) error {
	return fmt.Errorf("%s provider requires %s: %w", p, strings.Join(missing, ", "), ErrConfig)
}

// ProviderErrorCode extracts the OAuth error code (e.g. invalid_grant) from a token exchange failure.
func ProviderErrorCode(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return re.ErrorCode
	}
	return ""
}

// EmptyToken reports whether token carries nothing usable.
func EmptyToken(token *oauth2.Token) bool {
	return token == nil || token.AccessToken == ""
}

// GetJSON performs an authenticated GET and decodes a JSON object body.
func GetJSON(ctx context.Context, client *http.Client, url string) (identity.RawProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw identity.RawProfile
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return raw, nil
}

// Scopes returns scopes when non-empty, otherwise def.
func Scopes(scopes, def []string) []string {
	if len(scopes) == 0 {
		return def
	}
	return scopes
}

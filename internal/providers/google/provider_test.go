package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/bengobox/signin-service/internal/config"
	"github.com/bengobox/signin-service/internal/providers"
)

func newFakeGoogle(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Bad Request"}`))
			return
		}
		assert.Equal(t, "https://site.test/_AUTH_RESPONSE_SIWE_", r.Form.Get("redirect_uri"))
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "at-1", "token_type": "Bearer", "expires_in": 3599})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "1089", "email": "ada@gmail.com", "given_name": "Ada", "family_name": "Lovelace", "name": "Ada Lovelace",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(t *testing.T, srv *httptest.Server) providers.Provider {
	t.Helper()
	p, err := New(config.ProvidersConfig{Google: config.GoogleProviderConfig{Enabled: true, ClientID: "cid", ClientSecret: "sec"}},
		providers.Options{
			HTTPClient: srv.Client(),
			Endpoint:   oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
			ProfileURL: srv.URL + "/userinfo",
		})
	require.NoError(t, err)
	return p
}

func TestAuthCodeURL(t *testing.T) {
	p, err := New(config.ProvidersConfig{Google: config.GoogleProviderConfig{ClientID: "cid", ClientSecret: "sec"}}, providers.Options{})
	require.NoError(t, err)

	raw, err := p.AuthCodeURL("c3RhdGU=", nil, "https://site.test/_AUTH_RESPONSE_SIWE_")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "c3RhdGU=", q.Get("state"))
	assert.Equal(t, "select_account", q.Get("prompt"))
	assert.Equal(t, "https://site.test/_AUTH_RESPONSE_SIWE_", q.Get("redirect_uri"))
	assert.Contains(t, q.Get("scope"), "userinfo.email")
}

func TestAuthCodeURLRequiresCredentials(t *testing.T) {
	p, err := New(config.ProvidersConfig{}, providers.Options{})
	require.NoError(t, err)
	_, err = p.AuthCodeURL("s", nil, "https://site.test/cb")
	assert.True(t, errors.Is(err, providers.ErrConfig))
}

func TestExchangeAndFetch(t *testing.T) {
	srv := newFakeGoogle(t)
	p := newTestProvider(t, srv)
	ctx := context.Background()

	token, err := p.Exchange(ctx, "good-code", "https://site.test/_AUTH_RESPONSE_SIWE_")
	require.NoError(t, err)
	assert.Equal(t, "at-1", token.AccessToken)

	raw, err := p.FetchProfile(ctx, token)
	require.NoError(t, err)
	id, err := p.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "1089", id.SubjectID)
	assert.Equal(t, "ada@gmail.com", id.Email)
	assert.Equal(t, "Ada", id.FirstName)
	assert.Equal(t, "Lovelace", id.LastName)
	assert.Equal(t, "Ada Lovelace", id.FullName)
}

func TestExchangeErrors(t *testing.T) {
	srv := newFakeGoogle(t)
	p := newTestProvider(t, srv)

	_, err := p.Exchange(context.Background(), "", "https://site.test/_AUTH_RESPONSE_SIWE_")
	assert.True(t, errors.Is(err, providers.ErrEmptyCode))

	_, err = p.Exchange(context.Background(), "bad", "https://site.test/_AUTH_RESPONSE_SIWE_")
	require.Error(t, err)
	assert.True(t, errors.Is(err, providers.ErrTokenExchange))
	assert.Equal(t, "invalid_grant", providers.ProviderErrorCode(err))
}

func TestFetchProfile(t *testing.T) {
	srv := newFakeGoogle(t)
	p := newTestProvider(t, srv)

	raw, err := p.FetchProfile(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	_, err = p.FetchProfile(context.Background(), &oauth2.Token{AccessToken: "expired"})
	assert.True(t, errors.Is(err, providers.ErrProfileFetch))
}

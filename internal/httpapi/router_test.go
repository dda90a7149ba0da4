package httpapi_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/bengobox/signin-service/internal/config"
	"github.com/bengobox/signin-service/internal/httpapi"
	"github.com/bengobox/signin-service/internal/httpapi/handlers"
	"github.com/bengobox/signin-service/internal/httpapi/middleware"
	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/providers"
	"github.com/bengobox/signin-service/internal/services/accounts"
	"github.com/bengobox/signin-service/internal/services/signin"
	"github.com/bengobox/signin-service/internal/session"
	"github.com/bengobox/signin-service/internal/store/memory"
	"github.com/bengobox/signin-service/internal/token"
)

type stubProvider struct {
	name  identity.Provider
	email string
}

func (p stubProvider) Name() identity.Provider { return p.name }
func (p stubProvider) DefaultScopes() []string { return []string{"email"} }

func (p stubProvider) AuthCodeURL(st string, _ []string, redirectURI string) (string, error) {
	return "https://idp.test/authorize?" + url.Values{"state": {st}, "redirect_uri": {redirectURI}}.Encode(), nil
}

func (p stubProvider) Exchange(context.Context, string, string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "at"}, nil
}

func (p stubProvider) FetchProfile(context.Context, *oauth2.Token) (identity.RawProfile, error) {
	return identity.RawProfile{"sub": "s-1", "email": p.email, "name": "Ada Lovelace"}, nil
}

func (p stubProvider) Normalize(raw identity.RawProfile) (*identity.Identity, error) {
	return identity.Normalize(p.name, raw, identity.FieldMap{Subject: "sub", Email: "email", FullName: "name"})
}

type hasher struct{}

func (hasher) Hash(pw string) (string, error) { return "h:" + pw, nil }

type env struct {
	router http.Handler
	store  *memory.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tokenCfg := config.TokenConfig{Issuer: "https://site.test", SessionTTL: time.Hour, CookieName: "siwe_session"}
	sessions := session.NewManager(token.NewServiceWithKey(tokenCfg, key), tokenCfg)

	store := memory.New()
	svc := signin.New(signin.Dependencies{
		Registry: providers.NewStaticRegistry(
			stubProvider{name: identity.ProviderMicrosoft, email: "ada@contoso.com"},
			stubProvider{name: identity.ProviderApple, email: "ada@icloud.com"},
		),
		Store:  store,
		Hasher: hasher{},
		Settings: signin.StaticSettings(signin.Settings{
			Enabled:         map[identity.Provider]bool{identity.ProviderMicrosoft: true, identity.ProviderApple: true},
			Policy:          accounts.Policy{RegistrationAllowed: true, PasswordLength: 16, DefaultRole: "subscriber"},
			SiteURL:         "https://site.test",
			CallbackURL:     "https://site.test/_AUTH_RESPONSE_SIWE_",
			LoginURL:        "/login",
			DefaultRedirect: "/profile",
			ProviderTimeout: time.Second,
		}),
	})
	h := handlers.NewAuthHandler(svc, sessions, nil)

	router := httpapi.NewRouter(httpapi.RouterDeps{
		HealthHandler: handlers.Health(nil),
		AuthHandlers: httpapi.AuthHandlers{
			Start:     h.Start,
			Callback:  h.Callback,
			Providers: h.Providers,
			Unlink:    h.Unlink,
			Me:        h.Me,
			Logout:    h.Logout,
		},
		RequireSession: middleware.NewAuth(sessions).RequireSession,
		CallbackPath:   "/_AUTH_RESPONSE_SIWE_",
	})
	return &env{router: router, store: store}
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) start(t *testing.T, provider, redirect string) string {
	t.Helper()
	w := e.do(httptest.NewRequest(http.MethodGet, "/auth/"+provider+"/start?redirect_to="+url.QueryEscape(redirect), nil))
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "idp.test", loc.Host)
	assert.Equal(t, "https://site.test/_AUTH_RESPONSE_SIWE_", loc.Query().Get("redirect_uri"))
	return loc.Query().Get("state")
}

func TestSignInFlowOverHTTP(t *testing.T) {
	e := newEnv(t)
	st := e.start(t, "microsoft", "/welcome")

	w := e.do(httptest.NewRequest(http.MethodGet, "/_AUTH_RESPONSE_SIWE_?code=abc&state="+url.QueryEscape(st), nil))
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/welcome", w.Header().Get("Location"))
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)

	me := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	me.AddCookie(cookies[0])
	w = e.do(me)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Email string `json:"email"`
		Links []struct {
			Provider string `json:"provider"`
		} `json:"links"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ada@contoso.com", body.Email)
	require.Len(t, body.Links, 1)
	assert.Equal(t, "microsoft", body.Links[0].Provider)

	unlink := httptest.NewRequest(http.MethodDelete, "/auth/links/microsoft", nil)
	unlink.AddCookie(cookies[0])
	assert.Equal(t, http.StatusNoContent, e.do(unlink).Code)

	unlink = httptest.NewRequest(http.MethodDelete, "/auth/links/microsoft", nil)
	unlink.AddCookie(cookies[0])
	assert.Equal(t, http.StatusNotFound, e.do(unlink).Code)
	assert.Equal(t, 1, e.store.AccountCount())
}

func TestAppleFormPostCallback(t *testing.T) {
	e := newEnv(t)
	st := e.start(t, "apple", "")

	form := url.Values{"code": {"abc"}, "state": {st}}
	req := httptest.NewRequest(http.MethodPost, "/_AUTH_RESPONSE_SIWE_", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := e.do(req)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/profile?siwe_redirected&provider=apple", w.Header().Get("Location"))
}

func TestCallbackFailureRedirects(t *testing.T) {
	e := newEnv(t)

	w := e.do(httptest.NewRequest(http.MethodGet, "/_AUTH_RESPONSE_SIWE_?error=access_denied", nil))
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)
	assert.Equal(t, "Could not validate user : access_denied", loc.Query().Get("siwe_forbidden_error"))
	assert.Empty(t, w.Result().Cookies())

	w = e.do(httptest.NewRequest(http.MethodGet, "/auth/google/start", nil))
	require.Equal(t, http.StatusFound, w.Code)
	loc, err = url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)
	assert.NotEmpty(t, loc.Query().Get("siwe_forbidden_error"))
	assert.Equal(t, 0, e.store.AccountCount())
}

func TestProvidersAndSessionRoutes(t *testing.T) {
	e := newEnv(t)

	w := e.do(httptest.NewRequest(http.MethodGet, "/auth/providers", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Providers []signin.Button `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Providers, 2)
	assert.Equal(t, identity.ProviderMicrosoft, body.Providers[0].Provider)
	assert.Equal(t, "/auth/microsoft/start", body.Providers[0].StartURL)

	assert.Equal(t, http.StatusUnauthorized, e.do(httptest.NewRequest(http.MethodGet, "/auth/me", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(httptest.NewRequest(http.MethodDelete, "/auth/links/apple", nil)).Code)

	w = e.do(httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, w.Result().Cookies(), 1)

	assert.Equal(t, http.StatusOK, e.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

package session_test

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bengobox/signin-service/internal/config"
	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/services/accounts"
	"github.com/bengobox/signin-service/internal/session"
	"github.com/bengobox/signin-service/internal/token"
)

func newManager(t *testing.T) *session.Manager {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cfg := config.TokenConfig{Issuer: "https://signin.test", SessionTTL: time.Hour, CookieName: "sid", CookieSecure: true}
	return session.NewManager(token.NewServiceWithKey(cfg, key), cfg)
}

func TestEstablishAndCurrent(t *testing.T) {
	m := newManager(t)
	account := &accounts.Account{ID: uuid.New(), Username: "ada", Email: "ada@example.com"}

	rec := httptest.NewRecorder()
	require.NoError(t, m.Establish(rec, account, identity.ProviderApple))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(cookies[0])
	claims, ok := m.Current(req)
	require.True(t, ok)
	assert.Equal(t, "apple", claims.Provider)
	require.NotNil(t, m.CurrentAccountID(req))
	assert.Equal(t, account.ID, *m.CurrentAccountID(req))

	bearer := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	bearer.Header.Set("Authorization", "Bearer "+cookies[0].Value)
	_, ok = m.Current(bearer)
	assert.True(t, ok)
}

func TestCurrentWithoutSession(t *testing.T) {
	m := newManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := m.Current(req)
	assert.False(t, ok)
	assert.Nil(t, m.CurrentAccountID(req))

	req.AddCookie(&http.Cookie{Name: "sid", Value: "garbage"})
	_, ok = m.Current(req)
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	m := newManager(t)
	rec := httptest.NewRecorder()
	m.Clear(rec)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "", cookies[0].Value)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

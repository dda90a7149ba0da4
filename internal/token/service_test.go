package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bengobox/signin-service/internal/config"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestMintAndParse(t *testing.T) {
	svc := NewServiceWithKey(config.TokenConfig{Issuer: "https://signin.test", Audience: "site", SessionTTL: time.Hour}, testKey(t))
	id := uuid.New()

	raw, exp, err := svc.MintSession(SessionInput{AccountID: id, Email: "ada@example.com", Username: "ada", Provider: "google"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := svc.Parse(raw)
	require.NoError(t, err)
	got, err := claims.AccountID()
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, "ada", claims.Username)
	assert.Equal(t, "google", claims.Provider)
	assert.NotEmpty(t, claims.SessionID)
}

func TestParseRejects(t *testing.T) {
	key := testKey(t)
	svc := NewServiceWithKey(config.TokenConfig{Issuer: "https://signin.test", Audience: "site", SessionTTL: time.Hour}, key)
	raw, _, err := svc.MintSession(SessionInput{AccountID: uuid.New()})
	require.NoError(t, err)

	other := NewServiceWithKey(config.TokenConfig{Issuer: "https://signin.test", Audience: "site"}, testKey(t))
	_, err = other.Parse(raw)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	wrongAud := NewServiceWithKey(config.TokenConfig{Issuer: "https://signin.test", Audience: "elsewhere"}, key)
	_, err = wrongAud.Parse(raw)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Parse(raw)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	_, err = svc.Parse("not-a-token")
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestNewServiceLoadsPEM(t *testing.T) {
	key := testKey(t)
	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")

	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), 0o600))
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o600))

	svc, err := NewService(config.TokenConfig{PrivateKeyPath: privPath, PublicKeyPath: pubPath})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, svc.TTL())

	raw, _, err := svc.MintSession(SessionInput{AccountID: uuid.New()})
	require.NoError(t, err)
	_, err = svc.Parse(raw)
	require.NoError(t, err)

	_, err = NewService(config.TokenConfig{PrivateKeyPath: filepath.Join(dir, "missing.pem"), PublicKeyPath: pubPath})
	assert.Error(t, err)
}

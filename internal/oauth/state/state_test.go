package state

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bengobox/signin-service/internal/identity"
)

var samples = []AuthState{
	{Provider: identity.ProviderGoogle},
	{AfterLoginRedirect: "/wp-admin", Provider: identity.ProviderMicrosoft},
	{AfterLoginRedirect: "https://example.com/a?b=c&d=e", Provider: identity.ProviderApple, RedirectURI: "/welcome"},
	{Provider: identity.ProviderGoogle, Custom: map[string]string{"campaign": "spring", "nonce": "n-1"}},
}

func TestPlainRoundTrip(t *testing.T) {
	var c PlainCodec
	for _, s := range samples {
		raw, err := c.Encode(s)
		require.NoError(t, err)
		got, err := c.Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestPlainWireFormat(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte(`{"after_login_redirect":"/x","siwe_provider":"google","extra":5}`))
	got, err := PlainCodec{}.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "/x", got.AfterLoginRedirect)
	assert.Equal(t, identity.ProviderGoogle, got.Provider)
	assert.Equal(t, "5", got.Custom["extra"])

	unpadded := base64.RawURLEncoding.EncodeToString([]byte(`{"siwe_provider":"apple"}`))
	got, err = PlainCodec{}.Decode(unpadded)
	require.NoError(t, err)
	assert.Equal(t, identity.ProviderApple, got.Provider)
}

func TestPlainMalformed(t *testing.T) {
	for _, raw := range []string{"%%%", base64.StdEncoding.EncodeToString([]byte("not json")), base64.StdEncoding.EncodeToString([]byte(`[1,2]`))} {
		_, err := PlainCodec{}.Decode(raw)
		assert.True(t, errors.Is(err, ErrMalformedState), raw)
	}
}

func TestSignedRoundTrip(t *testing.T) {
	c, err := NewSignedCodec("secret", time.Minute)
	require.NoError(t, err)
	for _, s := range samples {
		raw, err := c.Encode(s)
		require.NoError(t, err)
		got, err := c.Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestSignedRejectsTamperingAndExpiry(t *testing.T) {
	c, err := NewSignedCodec("secret", time.Minute)
	require.NoError(t, err)
	raw, err := c.Encode(AuthState{Provider: identity.ProviderGoogle})
	require.NoError(t, err)

	other, err := NewSignedCodec("other", time.Minute)
	require.NoError(t, err)
	_, err = other.Decode(raw)
	assert.True(t, errors.Is(err, ErrMalformedState))

	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = c.Decode(raw)
	assert.True(t, errors.Is(err, ErrMalformedState))

	plain, err := PlainCodec{}.Encode(AuthState{Provider: identity.ProviderGoogle})
	require.NoError(t, err)
	_, err = c.Decode(plain)
	assert.True(t, errors.Is(err, ErrMalformedState))
}

func TestNew(t *testing.T) {
	c, err := New("plain", "", 0)
	require.NoError(t, err)
	assert.IsType(t, PlainCodec{}, c)

	_, err = New("signed", "", 0)
	require.Error(t, err)

	_, err = New("rot13", "x", 0)
	require.Error(t, err)
}

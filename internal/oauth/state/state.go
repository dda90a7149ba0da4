package state

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bengobox/signin-service/internal/identity"
)

// ErrMalformedState is returned when a state value cannot be decoded or fails verification.
var ErrMalformedState = errors.New("malformed oauth state")

const (
	keyAfterLoginRedirect = "after_login_redirect"
	keyProvider           = "siwe_provider"
	keyRedirectURI        = "my_redirect_uri"
)

// AuthState is the intent carried across the provider round-trip.
type AuthState struct {
	AfterLoginRedirect string
	Provider           identity.Provider
	// RedirectURI overrides every other post-login destination when set.
	RedirectURI string
	Custom      map[string]string
}

// MarshalJSON flattens custom fields next to the well-known keys.
func (s AuthState) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(s.Custom)+3)
	for k, v := range s.Custom {
		out[k] = v
	}
	out[keyAfterLoginRedirect] = s.AfterLoginRedirect
	out[keyProvider] = string(s.Provider)
	if s.RedirectURI != "" {
		out[keyRedirectURI] = s.RedirectURI
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts any JSON object; non-string custom values are kept in their JSON form.
func (s *AuthState) UnmarshalJSON(data []byte) error {
	var in map[string]json.RawMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = AuthState{}
	for k, raw := range in {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			v = string(raw)
		}
		switch k {
		case keyAfterLoginRedirect:
			s.AfterLoginRedirect = v
		case keyProvider:
			s.Provider = identity.Provider(v)
		case keyRedirectURI:
			s.RedirectURI = v
		default:
			if s.Custom == nil {
				s.Custom = make(map[string]string)
			}
			s.Custom[k] = v
		}
	}
	return nil
}

// Codec turns an AuthState into the opaque state parameter and back.
type Codec interface {
	Encode(s AuthState) (string, error)
	Decode(raw string) (AuthState, error)
}

// PlainCodec encodes state as base64(JSON) without integrity protection,
// which keeps state values interchangeable with existing integrations.
type PlainCodec struct{}

func (PlainCodec) Encode(s AuthState) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (PlainCodec) Decode(raw string) (AuthState, error) {
	data, err := decodeBase64(raw)
	if err != nil {
		return AuthState{}, fmt.Errorf("%w: %w", ErrMalformedState, err)
	}
	var s AuthState
	if err := json.Unmarshal(data, &s); err != nil {
		return AuthState{}, fmt.Errorf("%w: %w", ErrMalformedState, err)
	}
	return s, nil
}

// decodeBase64 accepts padded and unpadded values, in the standard or URL alphabet.
func decodeBase64(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	// form decoding turns '+' into spaces
	raw = strings.ReplaceAll(raw, " ", "+")
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(raw); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("invalid base64")
}

// SignedCodec signs state as an HS256 JWT with an expiry, so forged or replayed-late state is rejected.
type SignedCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedCodec builds a SignedCodec. secret must not be empty.
func NewSignedCodec(secret string, ttl time.Duration) (*SignedCodec, error) {
	if secret == "" {
		return nil, fmt.Errorf("oauth state secret missing")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SignedCodec{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Encode signs the state using HS256.
func (c *SignedCodec) Encode(s AuthState) (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(c.ttl).Unix(),
	}
	for k, v := range s.Custom {
		claims[k] = v
	}
	claims[keyAfterLoginRedirect] = s.AfterLoginRedirect
	claims[keyProvider] = string(s.Provider)
	if s.RedirectURI != "" {
		claims[keyRedirectURI] = s.RedirectURI
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Decode verifies and extracts the state.
func (c *SignedCodec) Decode(raw string) (AuthState, error) {
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		return AuthState{}, fmt.Errorf("%w: parse state: %w", ErrMalformedState, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return AuthState{}, fmt.Errorf("%w: state claims invalid", ErrMalformedState)
	}

	s := AuthState{
		AfterLoginRedirect: claimString(claims, keyAfterLoginRedirect),
		Provider:           identity.Provider(claimString(claims, keyProvider)),
		RedirectURI:        claimString(claims, keyRedirectURI),
	}
	for k := range claims {
		switch k {
		case keyAfterLoginRedirect, keyProvider, keyRedirectURI, "iat", "exp":
			continue
		}
		if s.Custom == nil {
			s.Custom = make(map[string]string)
		}
		s.Custom[k] = claimString(claims, k)
	}
	return s, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// New returns the codec for mode ("plain" or "signed").
func New(mode, secret string, ttl time.Duration) (Codec, error) {
	switch mode {
	case "", "plain":
		return PlainCodec{}, nil
	case "signed":
		return NewSignedCodec(secret, ttl)
	}
	return nil, fmt.Errorf("unknown state mode %q", mode)
}

package apple

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	gocache "github.com/patrickmn/go-cache"
)

const jwksCacheKey = "apple_jwks"

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// keySet caches Apple's signing keys and refetches once when an unknown kid shows up.
type keySet struct {
	url    string
	client *http.Client
	cache  *gocache.Cache
}

func newKeySet(url string, client *http.Client, cache *gocache.Cache) *keySet {
	return &keySet{url: url, client: client, cache: cache}
}

func (k *keySet) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if kid == "" {
		return nil, fmt.Errorf("id_token header has no kid")
	}
	if cached, ok := k.cache.Get(jwksCacheKey); ok {
		if pk, ok := cached.(map[string]*rsa.PublicKey)[kid]; ok {
			return pk, nil
		}
	}
	keys, err := k.fetch(ctx)
	if err != nil {
		return nil, err
	}
	k.cache.SetDefault(jwksCacheKey, keys)
	pk, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("apple signing key %q not found", kid)
	}
	return pk, nil
}

func (k *keySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch apple jwks: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch apple jwks: status=%d", resp.StatusCode)
	}
	var body struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode apple jwks: %w", err)
	}

	out := make(map[string]*rsa.PublicKey, len(body.Keys))
	for _, key := range body.Keys {
		if key.Kty != "RSA" || key.Kid == "" {
			continue
		}
		pk, err := rsaKey(key)
		if err != nil {
			return nil, fmt.Errorf("apple key %s: %w", key.Kid, err)
		}
		out[key.Kid] = pk
	}
	return out, nil
}

func rsaKey(key jwk) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(key.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(key.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

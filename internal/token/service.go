package token

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bengobox/signin-service/internal/config"
)

// ErrInvalidToken is returned for tokens that fail signature, issuer, audience or expiry checks.
var ErrInvalidToken = errors.New("invalid session token")

// Claims represents the JWT registered claims plus session metadata.
type Claims struct {
	SessionID string `json:"sid"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"preferred_username,omitempty"`
	Role      string `json:"role,omitempty"`
	Provider  string `json:"amr_provider,omitempty"`
	jwt.RegisteredClaims
}

// AccountID returns the subject as an account id.
func (c *Claims) AccountID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not an account id", ErrInvalidToken)
	}
	return id, nil
}

// SessionInput defines metadata for session minting.
type SessionInput struct {
	AccountID uuid.UUID
	Email     string
	Username  string
	Role      string
	Provider  string
}

// Service handles session JWT minting and verification.
type Service struct {
	cfg        config.TokenConfig
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	parser     *jwt.Parser
	now        func() time.Time
}

// NewService loads signing material and returns a token service.
func NewService(cfg config.TokenConfig) (*Service, error) {
	priv, err := loadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	pub, err := loadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, err
	}
	return newService(cfg, priv, pub), nil
}

// NewServiceWithKey builds a service from an in-memory key pair.
func NewServiceWithKey(cfg config.TokenConfig, key *rsa.PrivateKey) *Service {
	return newService(cfg, key, &key.PublicKey)
}

func newService(cfg config.TokenConfig, priv *rsa.PrivateKey, pub *rsa.PublicKey) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	s := &Service{cfg: cfg, privateKey: priv, publicKey: pub, now: time.Now}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	s.parser = jwt.NewParser(opts...)
	return s
}

// TTL is the lifetime of minted sessions.
func (s *Service) TTL() time.Duration { return s.cfg.SessionTTL }

// MintSession generates a signed JWT representing the signed-in account.
func (s *Service) MintSession(input SessionInput) (string, time.Time, error) {
	now := s.now().UTC()
	exp := now.Add(s.cfg.SessionTTL)

	claims := &Claims{
		SessionID: uuid.NewString(),
		Email:     input.Email,
		Username:  input.Username,
		Role:      input.Role,
		Provider:  input.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Subject:   input.AccountID.String(),
		},
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}
	return signed, exp, nil
}

// Parse validates and parses a session token.
func (s *Service) Parse(tokenString string) (*Claims, error) {
	token, err := s.parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return s.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("decode private key pem: empty block")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err == nil {
		return key, nil
	}
	pkcs8Key, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err2 != nil {
		return nil, fmt.Errorf("parse private key: %v / %v", err, err2)
	}
	rsaKey, ok := pkcs8Key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("decode public key pem: empty block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaPub, nil
}

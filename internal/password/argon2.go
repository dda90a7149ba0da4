package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/bengobox/signin-service/internal/config"
)

var (
	// ErrInvalidHash indicates the stored hash cannot be parsed.
	ErrInvalidHash = errors.New("invalid password hash")
	// ErrMismatch indicates the password does not match the hash.
	ErrMismatch = errors.New("password mismatch")
)

const saltLength = 16

// Hasher produces PHC-formatted Argon2id hashes.
type Hasher struct {
	time    uint32
	memory  uint32
	threads uint8
	keyLen  uint32
}

// NewHasher constructs a Hasher from the security settings, falling back to m=65536, t=3, p=2, keylen=32.
func NewHasher(cfg config.SecurityConfig) *Hasher {
	h := &Hasher{time: cfg.Argon2Time, memory: cfg.Argon2Memory, threads: cfg.Argon2Threads, keyLen: cfg.Argon2KeyLength}
	if h.time == 0 {
		h.time = 3
	}
	if h.memory == 0 {
		h.memory = 64 * 1024
	}
	if h.threads == 0 {
		h.threads = 2
	}
	if h.keyLen == 0 {
		h.keyLen = 32
	}
	return h
}

// Hash creates a new Argon2id hash for the supplied plain text password.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.time, h.memory, h.threads, h.keyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.time, h.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Compare verifies that the specified password matches the stored hash.
func (h *Hasher) Compare(hash string, password string) error {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return ErrInvalidHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return ErrInvalidHash
	}
	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return ErrInvalidHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrInvalidHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ErrInvalidHash
	}
	got := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrMismatch
	}
	return nil
}

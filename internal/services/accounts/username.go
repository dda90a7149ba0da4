package accounts

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand"
	"strings"

	"github.com/gosimple/slug"
)

const (
	minPasswordLength = 12
	maxUsernameTries  = 32
	passwordAlphabet  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()"
)

// deriveUsername builds a username from the email local part, appending random digits until it is free.
func deriveUsername(ctx context.Context, store Store, email string) (string, error) {
	local := email
	if at := strings.LastIndex(email, "@"); at >= 0 {
		local = email[:at]
	}
	candidate := slug.Make(local)
	if candidate == "" {
		candidate = "user"
	}
	for i := 0; i < maxUsernameTries; i++ {
		taken, err := store.UsernameExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check username: %w", err)
		}
		if !taken {
			return candidate, nil
		}
		candidate += fmt.Sprintf("%d", mrand.Intn(9)+1)
	}
	return "", fmt.Errorf("no free username for %q after %d attempts", local, maxUsernameTries)
}

// generatePassword returns a random password of at least minPasswordLength characters.
func generatePassword(length int) (string, error) {
	if length < minPasswordLength {
		length = minPasswordLength
	}
	limit := big.NewInt(int64(len(passwordAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("random password: %w", err)
		}
		b.WriteByte(passwordAlphabet[n.Int64()])
	}
	return b.String(), nil
}

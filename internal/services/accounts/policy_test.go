package accounts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeGoogleEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"jos.hu.a+spam@gmail.com", "joshua@gmail.com"},
		{"plain@gmail.com", "plain@gmail.com"},
		{"a.b.c@googlemail.com", "abc@googlemail.com"},
		{"first+a+b@gmail.com", "first@gmail.com"},
		{"dots.in.domain@mail.example.co.uk", "dotsindomain@mail.example.co.uk"},
		{"no-at-sign", "no-at-sign"},
	}
	for _, tt := range tests {
		got := SanitizeGoogleEmail(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, got, SanitizeGoogleEmail(got), "idempotent for %s", tt.in)
	}
}

func TestDomainPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy DomainPolicy
		domain string
		want   bool
	}{
		{"empty lists allow all", DomainPolicy{}, "anything.io", true},
		{"allow-listed", DomainPolicy{Allowed: []string{"corp.io"}}, "corp.io", true},
		{"not allow-listed", DomainPolicy{Allowed: []string{"corp.io"}}, "gmail.com", false},
		{"forbidden only", DomainPolicy{Forbidden: []string{"spam.io"}}, "spam.io", false},
		{"forbidden wins over allowed", DomainPolicy{Allowed: []string{"corp.io"}, Forbidden: []string{"corp.io"}}, "corp.io", false},
		{"case insensitive", DomainPolicy{Allowed: []string{"Corp.IO"}}, "corp.io", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Allows(tt.domain))
		})
	}
}

func TestEmailDomain(t *testing.T) {
	assert.Equal(t, "example.com", EmailDomain("a@Example.com"))
	assert.Equal(t, "", EmailDomain("nope"))
}

func TestGeneratePasswordLength(t *testing.T) {
	pw, err := generatePassword(4)
	assert.NoError(t, err)
	assert.Len(t, pw, minPasswordLength)

	pw, err = generatePassword(24)
	assert.NoError(t, err)
	assert.Len(t, pw, 24)
}

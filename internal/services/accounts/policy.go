package accounts

import (
	"slices"
	"strings"
)

// DomainPolicy restricts which email domains may register. Forbidden entries override allowed ones.
type DomainPolicy struct {
	Allowed   []string
	Forbidden []string
}

// Allows reports whether domain may register. An empty allow-list allows every domain.
func (p DomainPolicy) Allows(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if len(p.Allowed) > 0 && !containsFold(p.Allowed, domain) {
		return false
	}
	return !containsFold(p.Forbidden, domain)
}

func containsFold(list []string, v string) bool {
	return slices.ContainsFunc(list, func(s string) bool {
		return strings.EqualFold(strings.TrimSpace(s), v)
	})
}

// Policy is the per-request resolution policy snapshot.
type Policy struct {
	Domains             DomainPolicy
	RegistrationAllowed bool
	SanitizeGoogleEmail bool
	ForbidHiddenEmail   bool
	DefaultRole         string
	PasswordLength      int
	SaveRemoteInfo      bool
}

// SanitizeGoogleEmail collapses Gmail-style aliases: the "+tag" suffix and every dot in the local part are removed.
// Values without '@' are returned unchanged.
func SanitizeGoogleEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	local, domain := email[:at], email[at:]
	if plus := strings.Index(local, "+"); plus >= 0 {
		local = local[:plus]
	}
	return strings.ReplaceAll(local, ".", "") + domain
}

// EmailDomain returns the lower-cased part after the last '@'.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

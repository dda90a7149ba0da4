package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Provider identifies a supported external identity provider.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
	ProviderApple     Provider = "apple"
)

// Supported lists every provider the service knows about, in button order.
func Supported() []Provider {
	return []Provider{ProviderGoogle, ProviderMicrosoft, ProviderApple}
}

// ParseProvider maps a wire identifier onto the closed provider set.
func ParseProvider(name string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	switch p {
	case ProviderGoogle, ProviderMicrosoft, ProviderApple:
		return p, true
	}
	return "", false
}

func (p Provider) String() string { return string(p) }

// Title is the human readable provider name used in messages and buttons.
func (p Provider) Title() string {
	switch p {
	case ProviderGoogle:
		return "Google"
	case ProviderMicrosoft:
		return "Microsoft"
	case ProviderApple:
		return "Apple"
	}
	return string(p)
}

// RawProfile is the untouched user-info payload returned by a provider.
type RawProfile map[string]any

// Identity is the canonical, provider-agnostic view of an authenticated external user.
type Identity struct {
	Provider  Provider
	SubjectID string
	Email     string
	FirstName string
	LastName  string
	FullName  string
	Raw       RawProfile
}

// DisplayName returns the full name, falling back to "first last".
func (i *Identity) DisplayName() string {
	if i.FullName != "" {
		return i.FullName
	}
	return strings.TrimSpace(i.FirstName + " " + i.LastName)
}

// ErrIncomplete is returned when a payload carries neither a subject nor an email.
var ErrIncomplete = errors.New("identity has neither subject nor email")

// FieldMap names the raw payload keys that feed each Identity field.
type FieldMap struct {
	Subject   string
	Email     string
	FirstName string
	LastName  string
	FullName  string
}

// Normalize maps raw onto an Identity using fields.
func Normalize(provider Provider, raw RawProfile, fields FieldMap) (*Identity, error) {
	id := &Identity{
		Provider:  provider,
		SubjectID: raw.String(fields.Subject),
		Email:     strings.TrimSpace(raw.String(fields.Email)),
		FirstName: raw.String(fields.FirstName),
		LastName:  raw.String(fields.LastName),
		FullName:  raw.String(fields.FullName),
		Raw:       raw,
	}
	if id.SubjectID == "" && id.Email == "" {
		return nil, fmt.Errorf("normalize %s profile: %w", provider, ErrIncomplete)
	}
	return id, nil
}

// Has reports whether key is present with a non-nil value.
func (r RawProfile) Has(key string) bool {
	if r == nil || key == "" {
		return false
	}
	v, ok := r[key]
	return ok && v != nil
}

// String returns the value at key rendered as a string, or "" when absent.
func (r RawProfile) String(key string) string {
	if !r.Has(key) {
		return ""
	}
	switch v := r[key].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Bool interprets the value at key as a boolean. Apple sends some flags as "true"/"false" strings.
func (r RawProfile) Bool(key string) bool {
	if !r.Has(key) {
		return false
	}
	switch v := r[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || v == "1"
	case float64:
		return v != 0
	}
	return false
}

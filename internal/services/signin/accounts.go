package signin

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bengobox/signin-service/internal/audit"
	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/services/accounts"
)

// Button describes a sign-in button for an enabled provider.
type Button struct {
	Provider identity.Provider `json:"provider"`
	Title    string            `json:"title"`
	StartURL string            `json:"start_url"`
	ImageURL string            `json:"image_url"`
}

// Buttons lists enabled providers in display order.
func (s *Service) Buttons(ctx context.Context) ([]Button, error) {
	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	var out []Button
	for _, p := range identity.Supported() {
		if !settings.IsEnabled(p) {
			continue
		}
		if _, ok := s.registry.Get(p); !ok {
			continue
		}
		image := "/assets/login-with-" + string(p) + "-neutral.png"
		if s.hooks.ButtonImage != nil {
			image = s.hooks.ButtonImage(p, image)
		}
		out = append(out, Button{Provider: p, Title: "Log in with " + p.Title(), StartURL: ButtonPath(p), ImageURL: image})
	}
	return out, nil
}

// Unlink removes the link between accountID and provider. The account itself is kept.
func (s *Service) Unlink(ctx context.Context, accountID uuid.UUID, provider string, meta RequestMeta) error {
	p, ok := identity.ParseProvider(provider)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
	if err := s.store.DeleteLink(ctx, accountID, p); err != nil {
		return fmt.Errorf("unlink %s: %w", p, err)
	}
	s.auditor.Record(ctx, audit.Entry{
		AccountID:  &accountID,
		Action:     "auth.oauth." + string(p) + ".unlink",
		Provider:   string(p),
		Resource:   "account_link",
		ResourceID: accountID.String(),
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

// Account returns the account and its provider links.
func (s *Service) Account(ctx context.Context, accountID uuid.UUID) (*accounts.Account, []accounts.Link, error) {
	account, err := s.store.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	links, err := s.store.ListLinks(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("list links: %w", err)
	}
	return account, links, nil
}

package signin

import (
	"context"
	"net/url"
	"strings"

	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/oauth/state"
	"github.com/bengobox/signin-service/internal/services/accounts"
)

// successRedirect picks my_redirect_uri, then after_login_redirect, then the default landing page.
// Targets on foreign hosts are dropped.
func (s *Service) successRedirect(ctx context.Context, settings Settings, st state.AuthState, account *accounts.Account) string {
	target := ""
	for _, candidate := range []string{st.RedirectURI, st.AfterLoginRedirect} {
		if candidate != "" && safeRedirect(candidate, settings) {
			target = candidate
			break
		}
	}
	if target == "" {
		target = appendQuery(settings.DefaultRedirect, "siwe_redirected&provider="+url.QueryEscape(string(st.Provider)))
	}
	if s.hooks.RedirectAfterLogin != nil {
		target = s.hooks.RedirectAfterLogin(ctx, target, account)
	}
	return target
}

// failureRedirect points back at the login surface with a sanitized, urlencoded message.
func (s *Service) failureRedirect(ctx context.Context, settings Settings, err error) string {
	target := appendQuery(settings.LoginURL, "siwe_forbidden_error="+url.QueryEscape(Message(err)))
	if s.hooks.FailureRedirect != nil {
		target = s.hooks.FailureRedirect(ctx, target, err)
	}
	return target
}

func appendQuery(base, query string) string {
	if base == "" {
		base = "/"
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + query
}

// safeRedirect accepts site-relative paths and absolute http(s) URLs on the site host or an allowed host.
func safeRedirect(target string, settings Settings) bool {
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, `/\`) {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if u.Scheme == "" && u.Host == "" {
		return strings.HasPrefix(target, "/")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if site, err := url.Parse(settings.SiteURL); err == nil && strings.EqualFold(site.Hostname(), host) {
		return true
	}
	for _, allowed := range settings.RedirectAllowedHosts {
		if strings.EqualFold(strings.TrimSpace(allowed), host) {
			return true
		}
	}
	return false
}

// ButtonPath is the start route of provider p.
func ButtonPath(p identity.Provider) string {
	return "/auth/" + string(p) + "/start"
}

// FailureURL is the login surface redirect reporting err, for failures outside CompleteAuth.
func (s *Service) FailureURL(ctx context.Context, err error) string {
	settings, serr := s.settings.Settings(ctx)
	if serr != nil {
		settings = Settings{LoginURL: "/"}
	}
	return s.failureRedirect(ctx, settings, err)
}

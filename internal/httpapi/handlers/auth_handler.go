package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	authmiddleware "github.com/bengobox/signin-service/internal/httpapi/middleware"
	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/oauth/state"
	"github.com/bengobox/signin-service/internal/services/accounts"
	"github.com/bengobox/signin-service/internal/services/signin"
)

// SignInService describes the sign-in capabilities used by HTTP handlers.
type SignInService interface {
	BeginAuthWithState(ctx context.Context, provider string, st state.AuthState, meta signin.RequestMeta) (string, error)
	CompleteAuth(ctx context.Context, in signin.CallbackInput) (*signin.Result, error)
	FailureURL(ctx context.Context, err error) string
	Buttons(ctx context.Context) ([]signin.Button, error)
	Unlink(ctx context.Context, accountID uuid.UUID, provider string, meta signin.RequestMeta) error
	Account(ctx context.Context, accountID uuid.UUID) (*accounts.Account, []accounts.Link, error)
}

// Sessions keeps the signed-in account between requests.
type Sessions interface {
	CurrentAccountID(r *http.Request) *uuid.UUID
	Establish(w http.ResponseWriter, account *accounts.Account, provider identity.Provider) error
	Clear(w http.ResponseWriter)
}

// AuthHandler exposes HTTP endpoints for the social sign-in flow.
type AuthHandler struct {
	service  SignInService
	sessions Sessions
	logger   *zap.Logger
}

// NewAuthHandler constructs a handler.
func NewAuthHandler(service SignInService, sessions Sessions, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{service: service, sessions: sessions, logger: logger}
}

// Start redirects the browser to the provider's consent screen.
func (h *AuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	st := state.AuthState{
		AfterLoginRedirect: r.URL.Query().Get("redirect_to"),
		RedirectURI:        r.URL.Query().Get("my_redirect_uri"),
	}
	target, err := h.service.BeginAuthWithState(r.Context(), provider, st, requestMeta(r))
	if err != nil {
		h.logger.Info("sign-in start failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("provider", provider),
			zap.Error(err),
		)
		target = h.service.FailureURL(r.Context(), err)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback completes the flow. Apple posts the response as a form, the others use the query string.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	in := signin.CallbackInput{
		Provider:         chi.URLParam(r, "provider"),
		Code:             param(r, "code"),
		State:            param(r, "state"),
		Error:            param(r, "error"),
		ErrorDescription: param(r, "error_description"),
		CurrentAccountID: h.sessions.CurrentAccountID(r),
		Meta:             requestMeta(r),
	}

	res, err := h.service.CompleteAuth(r.Context(), in)
	if err != nil {
		http.Redirect(w, r, res.RedirectTo, http.StatusFound)
		return
	}
	if err := h.sessions.Establish(w, res.Account, res.Identity.Provider); err != nil {
		h.logger.Error("establish session",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		http.Redirect(w, r, h.service.FailureURL(r.Context(), err), http.StatusFound)
		return
	}
	http.Redirect(w, r, res.RedirectTo, http.StatusFound)
}

// Providers lists the sign-in buttons of enabled providers.
func (h *AuthHandler) Providers(w http.ResponseWriter, r *http.Request) {
	buttons, err := h.service.Buttons(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if buttons == nil {
		buttons = []signin.Button{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": buttons})
}

// Unlink removes the current account's link to a provider.
func (h *AuthHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	accountID, ok := currentAccount(w, r)
	if !ok {
		return
	}
	if err := h.service.Unlink(r.Context(), accountID, chi.URLParam(r, "provider"), requestMeta(r)); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the signed-in account and its provider links.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, ok := currentAccount(w, r)
	if !ok {
		return
	}
	account, links, err := h.service.Account(r.Context(), accountID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountView(account, links))
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, signin.ErrUnsupportedProvider):
		writeError(w, http.StatusBadRequest, "unsupported_provider", "unsupported provider", nil)
	case errors.Is(err, accounts.ErrLinkNotFound):
		writeError(w, http.StatusNotFound, "link_not_found", "provider is not linked to this account", nil)
	case errors.Is(err, accounts.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account_not_found", "account not found", nil)
	default:
		reqID := middleware.GetReqID(r.Context())
		h.logger.Error("auth handler error", zap.String("request_id", reqID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", "internal server error", map[string]any{"request_id": reqID})
	}
}

func currentAccount(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims, ok := authmiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing auth context", nil)
		return uuid.Nil, false
	}
	id, err := claims.AccountID()
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid account id in session", nil)
		return uuid.Nil, false
	}
	return id, true
}

// param reads name from the query string first, then from a posted form.
func param(r *http.Request, name string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	if r.Method == http.MethodPost {
		return r.PostFormValue(name)
	}
	return ""
}

func requestMeta(r *http.Request) signin.RequestMeta {
	return signin.RequestMeta{IPAddress: clientIP(r), UserAgent: userAgent(r)}
}

type linkView struct {
	Provider  identity.Provider `json:"provider"`
	Email     string            `json:"email"`
	CreatedAt time.Time         `json:"created_at"`
}

func accountView(a *accounts.Account, links []accounts.Link) map[string]any {
	views := make([]linkView, 0, len(links))
	for _, l := range links {
		views = append(views, linkView{Provider: l.Provider, Email: l.Email, CreatedAt: l.CreatedAt})
	}
	return map[string]any{
		"id":           a.ID,
		"username":     a.Username,
		"email":        a.Email,
		"role":         a.Role,
		"first_name":   a.FirstName,
		"last_name":    a.LastName,
		"display_name": a.DisplayName,
		"created_at":   a.CreatedAt,
		"links":        views,
	}
}

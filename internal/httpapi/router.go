package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterDeps defines router construction dependencies.
type RouterDeps struct {
	HealthHandler     http.HandlerFunc
	MetricsHandler    http.Handler
	AuthHandlers      AuthHandlers
	RequireSession    func(http.Handler) http.Handler
	RateLimitStart    func(http.Handler) http.Handler
	RateLimitCallback func(http.Handler) http.Handler
	// CallbackPath is the provider redirect target, e.g. /_AUTH_RESPONSE_SIWE_.
	CallbackPath   string
	AllowedOrigins []string
}

// AuthHandlers groups the HTTP handlers for sign-in routes.
type AuthHandlers struct {
	Start     http.HandlerFunc
	Callback  http.HandlerFunc
	Providers http.HandlerFunc
	Unlink    http.HandlerFunc
	Me        http.HandlerFunc
	Logout    http.HandlerFunc
}

// NewRouter wires HTTP routes.
func NewRouter(deps RouterDeps) http.Handler {
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if deps.HealthHandler != nil {
		r.Get("/healthz", deps.HealthHandler)
	}
	if deps.MetricsHandler != nil {
		r.Method("GET", "/metrics", deps.MetricsHandler)
	}

	start := optional(deps.RateLimitStart)
	callback := optional(deps.RateLimitCallback)
	requireSession := optional(deps.RequireSession)

	if deps.CallbackPath != "" {
		r.With(callback).Get(deps.CallbackPath, deps.AuthHandlers.Callback)
		r.With(callback).Post(deps.CallbackPath, deps.AuthHandlers.Callback)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/providers", deps.AuthHandlers.Providers)
		r.With(start).Get("/{provider}/start", deps.AuthHandlers.Start)
		r.With(callback).Get("/{provider}/callback", deps.AuthHandlers.Callback)
		r.With(callback).Post("/{provider}/callback", deps.AuthHandlers.Callback)
		r.Post("/logout", deps.AuthHandlers.Logout)

		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Get("/me", deps.AuthHandlers.Me)
			r.Delete("/links/{provider}", deps.AuthHandlers.Unlink)
		})
	})

	return r
}

func optional(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bengobox/signin-service/internal/audit"
	"github.com/bengobox/signin-service/internal/cache"
	"github.com/bengobox/signin-service/internal/config"
	"github.com/bengobox/signin-service/internal/database"
	"github.com/bengobox/signin-service/internal/httpapi"
	"github.com/bengobox/signin-service/internal/httpapi/handlers"
	httpmiddleware "github.com/bengobox/signin-service/internal/httpapi/middleware"
	"github.com/bengobox/signin-service/internal/identity"
	"github.com/bengobox/signin-service/internal/metrics"
	"github.com/bengobox/signin-service/internal/oauth/state"
	"github.com/bengobox/signin-service/internal/password"
	"github.com/bengobox/signin-service/internal/providers"
	appleprovider "github.com/bengobox/signin-service/internal/providers/apple"
	googleprovider "github.com/bengobox/signin-service/internal/providers/google"
	microsoftprovider "github.com/bengobox/signin-service/internal/providers/microsoft"
	"github.com/bengobox/signin-service/internal/services/signin"
	"github.com/bengobox/signin-service/internal/session"
	"github.com/bengobox/signin-service/internal/store/sqlstore"
	"github.com/bengobox/signin-service/internal/token"
)

// ProviderConstructors lists the adapters built into the service.
func ProviderConstructors() map[identity.Provider]providers.Constructor {
	return map[identity.Provider]providers.Constructor{
		identity.ProviderGoogle:    googleprovider.New,
		identity.ProviderMicrosoft: microsoftprovider.New,
		identity.ProviderApple:     appleprovider.New,
	}
}

// Core holds the dependencies shared by the server and the admin CLI.
type Core struct {
	DB      *sqlx.DB
	Store   *sqlstore.Store
	Auditor *audit.Logger
	Metrics *metrics.Metrics
	SignIn  *signin.Service
}

// NewCore opens the database, runs migrations when enabled and builds the sign-in service.
func NewCore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Core, error) {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.RunMigrations {
		if err := database.RunMigrations(db, cfg.Database.Driver); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	codec, err := state.New(cfg.Security.StateMode, cfg.Security.OAuthStateSecret, cfg.Security.StateTTL)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	registry, err := providers.NewRegistry(cfg.Providers, providers.Options{Timeout: cfg.SignIn.ProviderTimeout}, ProviderConstructors())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	m, err := metrics.New("signin")
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	store := sqlstore.New(db, cfg.Database.Driver)
	auditor := audit.New(store, logger)
	settings := signin.SettingsFromConfig(cfg)
	svc := signin.New(signin.Dependencies{
		Registry: registry,
		Codec:    codec,
		Store:    store,
		Hasher:   password.NewHasher(cfg.Security),
		Settings: signin.StaticSettings(settings),
		Auditor:  auditor,
		Metrics:  m,
		Logger:   logger,
	})

	for _, p := range registry.Names() {
		logger.Info("sign-in provider registered",
			zap.String("provider", p.String()),
			zap.Bool("enabled", settings.IsEnabled(p)),
		)
	}

	return &Core{DB: db, Store: store, Auditor: auditor, Metrics: m, SignIn: svc}, nil
}

// Close releases the database handle.
func (c *Core) Close() error {
	return c.DB.Close()
}

// App wires core dependencies and exposes server lifecycle controls.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	core       *Core
	redis      *redis.Client
	httpServer *http.Server
}

// New constructs the application.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	core, err := NewCore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	tokenSvc, err := token.NewService(cfg.Token)
	if err != nil {
		_ = core.Close()
		return nil, err
	}
	sessions := session.NewManager(tokenSvc, cfg.Token)

	var (
		redisClient *redis.Client
		limiter     httpmiddleware.Limiter
	)
	if cfg.Redis.Enabled {
		redisClient, err = cache.New(cfg.Redis)
		if err != nil {
			_ = core.Close()
			return nil, err
		}
		limiter = cache.NewRateLimiter(redisClient, cfg.Redis.Namespace, cfg.Redis.RateLimit, cfg.Redis.RateWindow)
	}
	rateLimiter := httpmiddleware.NewRateLimiter(limiter, core.Metrics, logger)

	authHandler := handlers.NewAuthHandler(core.SignIn, sessions, logger)
	authMiddleware := httpmiddleware.NewAuth(sessions)

	router := httpapi.NewRouter(httpapi.RouterDeps{
		HealthHandler:  handlers.Health(core.DB),
		MetricsHandler: core.Metrics.Handler(),
		AuthHandlers: httpapi.AuthHandlers{
			Start:     authHandler.Start,
			Callback:  authHandler.Callback,
			Providers: authHandler.Providers,
			Unlink:    authHandler.Unlink,
			Me:        authHandler.Me,
			Logout:    authHandler.Logout,
		},
		RequireSession:    authMiddleware.RequireSession,
		RateLimitStart:    rateLimiter.Limit("start"),
		RateLimitCallback: rateLimiter.Limit("callback"),
		CallbackPath:      cfg.CallbackRoute(),
		AllowedOrigins:    cfg.HTTP.AllowedOrigins,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           router,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		core:       core,
		redis:      redisClient,
		httpServer: server,
	}, nil
}

// Run starts the HTTP server with TLS if certificates are configured.
func (a *App) Run() error {
	var err error
	if a.cfg.HTTP.TLSCertFile != "" && a.cfg.HTTP.TLSKeyFile != "" {
		a.logger.Info("starting HTTPS server",
			zap.String("cert", a.cfg.HTTP.TLSCertFile),
			zap.String("key", a.cfg.HTTP.TLSKeyFile),
			zap.String("addr", a.httpServer.Addr),
		)
		err = a.httpServer.ListenAndServeTLS(a.cfg.HTTP.TLSCertFile, a.cfg.HTTP.TLSKeyFile)
	} else {
		a.logger.Info("starting HTTP server", zap.String("addr", a.httpServer.Addr))
		err = a.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server and closes resources.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownErr := a.httpServer.Shutdown(ctx)

	if err := a.core.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
		if shutdownErr == nil {
			shutdownErr = err
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", zap.Error(err))
			if shutdownErr == nil {
				shutdownErr = err
			}
		}
	}
	return shutdownErr
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config aggregates all runtime settings.
type Config struct {
	App       AppConfig       `envPrefix:"AUTH_"`
	HTTP      HTTPConfig      `envPrefix:"AUTH_HTTP_"`
	Database  DatabaseConfig  `envPrefix:"AUTH_DB_"`
	Redis     RedisConfig     `envPrefix:"AUTH_REDIS_"`
	Token     TokenConfig     `envPrefix:"AUTH_TOKEN_"`
	Security  SecurityConfig  `envPrefix:"AUTH_SECURITY_"`
	SignIn    SignInConfig    `envPrefix:"AUTH_SIGNIN_"`
	Providers ProvidersConfig `envPrefix:"AUTH_PROVIDERS_"`
}

type AppConfig struct {
	Environment string `env:"ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"signin-service"`
	SiteURL     string `env:"SITE_URL" envDefault:"http://localhost:4101"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Host              string        `env:"HOST" envDefault:"0.0.0.0"`
	Port              int           `env:"PORT" envDefault:"4101"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"25s"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	TLSCertFile       string        `env:"TLS_CERT_FILE"`
	TLSKeyFile        string        `env:"TLS_KEY_FILE"`
}

type DatabaseConfig struct {
	Driver          string        `env:"DRIVER" envDefault:"postgres"`
	URL             string        `env:"URL"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	RunMigrations   bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
}

type RedisConfig struct {
	Enabled    bool          `env:"ENABLED" envDefault:"false"`
	Addr       string        `env:"ADDR" envDefault:"127.0.0.1:6379"`
	Password   string        `env:"PASSWORD"`
	DB         int           `env:"DB" envDefault:"0"`
	EnableTLS  bool          `env:"ENABLE_TLS" envDefault:"false"`
	Namespace  string        `env:"NAMESPACE" envDefault:"signin"`
	RateLimit  int           `env:"RATE_LIMIT" envDefault:"30"`
	RateWindow time.Duration `env:"RATE_WINDOW" envDefault:"1m"`
}

type TokenConfig struct {
	Issuer         string        `env:"ISSUER" envDefault:"https://signin.bengobox.local"`
	Audience       string        `env:"AUDIENCE" envDefault:"bengobox"`
	PrivateKeyPath string        `env:"PRIVATE_KEY_PATH"`
	PublicKeyPath  string        `env:"PUBLIC_KEY_PATH"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	CookieName     string        `env:"COOKIE_NAME" envDefault:"siwe_session"`
	CookieSecure   bool          `env:"COOKIE_SECURE" envDefault:"true"`
}

type SecurityConfig struct {
	StateMode        string        `env:"STATE_MODE" envDefault:"plain"`
	OAuthStateSecret string        `env:"OAUTH_STATE_SECRET"`
	StateTTL         time.Duration `env:"STATE_TTL" envDefault:"10m"`
	Argon2Time       uint32        `env:"ARGON2_TIME" envDefault:"3"`
	Argon2Memory     uint32        `env:"ARGON2_MEMORY" envDefault:"65536"`
	Argon2Threads    uint8         `env:"ARGON2_THREADS" envDefault:"2"`
	Argon2KeyLength  uint32        `env:"ARGON2_KEY_LENGTH" envDefault:"32"`
}

// SignInConfig holds the account resolution and redirect policy.
type SignInConfig struct {
	AllowedDomains                  []string      `env:"ALLOWED_DOMAINS" envSeparator:","`
	ForbiddenDomains                []string      `env:"FORBIDDEN_DOMAINS" envSeparator:","`
	UsersCanRegister                bool          `env:"USERS_CAN_REGISTER" envDefault:"false"`
	AllowRegistrationEvenIfDisabled bool          `env:"ALLOW_REGISTRATION_EVEN_IF_DISABLED" envDefault:"false"`
	SanitizeGoogleEmail             bool          `env:"SANITIZE_GOOGLE_EMAIL" envDefault:"true"`
	DefaultRole                     string        `env:"DEFAULT_ROLE" envDefault:"subscriber"`
	SaveRemoteInfo                  bool          `env:"SAVE_REMOTE_INFO" envDefault:"false"`
	CallbackPath                    string        `env:"CALLBACK_PATH" envDefault:"/_AUTH_RESPONSE_SIWE_"`
	LoginURL                        string        `env:"LOGIN_URL" envDefault:"/login"`
	DefaultRedirect                 string        `env:"DEFAULT_REDIRECT" envDefault:"/profile"`
	PasswordLength                  int           `env:"PASSWORD_LENGTH" envDefault:"16"`
	RedirectAllowedHosts            []string      `env:"REDIRECT_ALLOWED_HOSTS" envSeparator:","`
	ProviderTimeout                 time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
}

type ProvidersConfig struct {
	Google    GoogleProviderConfig    `envPrefix:"GOOGLE_"`
	Microsoft MicrosoftProviderConfig `envPrefix:"MICROSOFT_"`
	Apple     AppleProviderConfig     `envPrefix:"APPLE_"`
}

type GoogleProviderConfig struct {
	Enabled      bool   `env:"ENABLED" envDefault:"false"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

type MicrosoftProviderConfig struct {
	Enabled      bool   `env:"ENABLED" envDefault:"false"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	Tenant       string `env:"TENANT" envDefault:"common"`
}

type AppleProviderConfig struct {
	Enabled           bool   `env:"ENABLED" envDefault:"false"`
	ClientID          string `env:"CLIENT_ID"`
	TeamID            string `env:"TEAM_ID"`
	KeyID             string `env:"KEY_ID"`
	PrivateKey        string `env:"PRIVATE_KEY"`
	PrivateKeyPath    string `env:"PRIVATE_KEY_PATH"`
	ForbidHiddenEmail bool   `env:"FORBID_HIDDEN_EMAIL" envDefault:"false"`
}

const minPasswordLength = 12

// Load parses environment variables into Config and performs validation.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("AUTH_DB_DRIVER must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("AUTH_DB_URL is required")
	}
	if c.Token.PrivateKeyPath == "" || c.Token.PublicKeyPath == "" {
		return fmt.Errorf("AUTH_TOKEN_PRIVATE_KEY_PATH and AUTH_TOKEN_PUBLIC_KEY_PATH are required")
	}
	if _, err := url.Parse(c.App.SiteURL); err != nil || c.App.SiteURL == "" {
		return fmt.Errorf("AUTH_SITE_URL must be an absolute url")
	}

	switch c.Security.StateMode {
	case "plain":
	case "signed":
		if c.Security.OAuthStateSecret == "" {
			return fmt.Errorf("AUTH_SECURITY_OAUTH_STATE_SECRET is required when AUTH_SECURITY_STATE_MODE=signed")
		}
	default:
		return fmt.Errorf("AUTH_SECURITY_STATE_MODE must be plain or signed, got %q", c.Security.StateMode)
	}

	if c.SignIn.PasswordLength < minPasswordLength {
		c.SignIn.PasswordLength = minPasswordLength
	}
	if c.SignIn.CallbackPath == "" {
		c.SignIn.CallbackPath = "/_AUTH_RESPONSE_SIWE_"
	}
	c.SignIn.AllowedDomains = normalizeDomains(c.SignIn.AllowedDomains)
	c.SignIn.ForbiddenDomains = normalizeDomains(c.SignIn.ForbiddenDomains)

	apple := &c.Providers.Apple
	if apple.PrivateKey == "" && apple.PrivateKeyPath != "" {
		data, err := os.ReadFile(apple.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("read AUTH_PROVIDERS_APPLE_PRIVATE_KEY_PATH: %w", err)
		}
		apple.PrivateKey = string(data)
	}
	return nil
}

// CallbackURL returns the absolute redirect-back URL registered with providers.
// An absolute CALLBACK_PATH is used as is; a relative one is joined to SITE_URL.
func (c *Config) CallbackURL() string {
	p := c.SignIn.CallbackPath
	if strings.Contains(p, "://") || strings.HasPrefix(p, "//") {
		return p
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(c.App.SiteURL, "/") + p
}

// CallbackRoute is the router path of the callback endpoint.
func (c *Config) CallbackRoute() string {
	u, err := url.Parse(c.CallbackURL())
	if err != nil || u.Path == "" {
		return "/_AUTH_RESPONSE_SIWE_"
	}
	return u.Path
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(d), "@")))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

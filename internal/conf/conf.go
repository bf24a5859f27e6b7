package conf

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the config structure.
type Config struct {
	Server  Server  `yaml:"server"`
	Log     Log     `yaml:"log"`
	Auth    Auth    `yaml:"auth"`
	Token   Token   `yaml:"token"`
	State   State   `yaml:"state"`
	Session Session `yaml:"session"`
	Debug   Debug   `yaml:"debug"`
}

// Server is the server config.
type Server struct {
	BaseURL         string        `yaml:"base_url" env:"AUTHBRIDGE_SERVER_BASE_URL"`
	Addr            string        `yaml:"addr" env:"AUTHBRIDGE_SERVER_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"AUTHBRIDGE_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"AUTHBRIDGE_SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"AUTHBRIDGE_SERVER_SHUTDOWN_TIMEOUT"`
}

// Log is the logging config.
type Log struct {
	Level  string `yaml:"level" env:"AUTHBRIDGE_LOG_LEVEL"`
	Format string `yaml:"format" env:"AUTHBRIDGE_LOG_FORMAT"` // text or json
}

// Auth is the identity provider config.
type Auth struct {
	// Provider is the OIDC issuer URL. When empty and TenantID is set, the
	// Microsoft identity platform v2.0 issuer for that tenant is used.
	Provider              string        `yaml:"provider" env:"AUTHBRIDGE_OIDC_PROVIDER"`
	TenantID              string        `yaml:"tenant_id" env:"AUTHBRIDGE_OIDC_TENANT_ID"`
	ClientID              string        `yaml:"client_id" env:"AUTHBRIDGE_OIDC_CLIENT_ID"`
	ClientSecret          Secret        `yaml:"client_secret" env:"AUTHBRIDGE_OIDC_CLIENT_SECRET"`
	RedirectURL           string        `yaml:"redirect_url" env:"AUTHBRIDGE_OIDC_REDIRECT_URL"` // Optional: if not set, auto-constructed from server.base_url
	PostLogoutRedirectURL string        `yaml:"post_logout_redirect_url" env:"AUTHBRIDGE_OIDC_POST_LOGOUT_REDIRECT_URL"`
	EndSessionURL         string        `yaml:"end_session_url" env:"AUTHBRIDGE_OIDC_END_SESSION_URL"` // Fallback when discovery has no end_session_endpoint
	FrontendURL           string        `yaml:"frontend_url" env:"AUTHBRIDGE_FRONTEND_URL"`
	ResourceScope         string        `yaml:"resource_scope" env:"AUTHBRIDGE_OIDC_RESOURCE_SCOPE"`
	ExtraScopes           []string      `yaml:"extra_scopes" env:"AUTHBRIDGE_OIDC_EXTRA_SCOPES" envSeparator:","`
	ExchangeTimeout       time.Duration `yaml:"exchange_timeout" env:"AUTHBRIDGE_OIDC_EXCHANGE_TIMEOUT"`
}

// Token is the application token config.
type Token struct {
	SigningSecret Secret        `yaml:"signing_secret" env:"AUTHBRIDGE_TOKEN_SIGNING_SECRET"`
	Issuer        string        `yaml:"issuer" env:"AUTHBRIDGE_TOKEN_ISSUER"`
	TTL           time.Duration `yaml:"ttl" env:"AUTHBRIDGE_TOKEN_TTL"`
}

// State is the CSRF state store config.
type State struct {
	Backend            string        `yaml:"backend" env:"AUTHBRIDGE_STATE_BACKEND"` // memory or redis
	TTL                time.Duration `yaml:"ttl" env:"AUTHBRIDGE_STATE_TTL"`
	SweepInterval      time.Duration `yaml:"sweep_interval" env:"AUTHBRIDGE_STATE_SWEEP_INTERVAL"`
	MaxLoginsPerSecond float64       `yaml:"max_logins_per_second" env:"AUTHBRIDGE_STATE_MAX_LOGINS_PER_SECOND"`
	LoginBurst         int           `yaml:"login_burst" env:"AUTHBRIDGE_STATE_LOGIN_BURST"`
	Redis              Redis         `yaml:"redis"`
}

// Redis is the redis connection config.
type Redis struct {
	Addr      string `yaml:"addr" env:"AUTHBRIDGE_REDIS_ADDR"`
	Username  string `yaml:"username" env:"AUTHBRIDGE_REDIS_USERNAME"`
	Password  Secret `yaml:"password" env:"AUTHBRIDGE_REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"AUTHBRIDGE_REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" env:"AUTHBRIDGE_REDIS_KEY_PREFIX"`
}

// Session is the optional server-side session config.
type Session struct {
	Enabled      bool          `yaml:"enabled" env:"AUTHBRIDGE_SESSION_ENABLED"`
	Backend      string        `yaml:"backend" env:"AUTHBRIDGE_SESSION_BACKEND"` // memory or sqlite
	Path         string        `yaml:"path" env:"AUTHBRIDGE_SESSION_PATH"`
	CookieName   string        `yaml:"cookie_name" env:"AUTHBRIDGE_SESSION_COOKIE_NAME"`
	CookieSecure bool          `yaml:"cookie_secure" env:"AUTHBRIDGE_SESSION_COOKIE_SECURE"`
	TTL          time.Duration `yaml:"ttl" env:"AUTHBRIDGE_SESSION_TTL"`
}

// Debug holds switches that weaken security. Never enable them in production.
type Debug struct {
	UnsafeSkipStateCheck bool `yaml:"unsafe_skip_state_check" env:"AUTHBRIDGE_UNSAFE_SKIP_STATE_CHECK"`
}

// GetRedirectURL returns the OIDC callback URL
// If RedirectURL is explicitly configured, use it
// Otherwise, construct from server base_url + hardcoded callback path
func (a *Auth) GetRedirectURL(serverBaseURL string) string {
	if a.RedirectURL != "" {
		return a.RedirectURL
	}
	return strings.TrimRight(serverBaseURL, "/") + "/auth/callback"
}

// GetIssuer returns the issuer used for discovery.
func (a *Auth) GetIssuer() string {
	if a.Provider != "" {
		return a.Provider
	}
	if a.TenantID != "" {
		return "https://login.microsoftonline.com/" + a.TenantID + "/v2.0"
	}
	return ""
}

// Scopes returns the scopes requested during authorization.
func (a *Auth) Scopes() []string {
	scopes := []string{"openid", "profile", "email"}
	if a.ResourceScope != "" {
		scopes = append(scopes, a.ResourceScope)
	}
	for _, s := range a.ExtraScopes {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// SlogLevel maps the configured level name to a slog.Level.
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load loads config from file, then applies environment overrides and defaults.
// An empty path skips the file and reads the environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Environment wins over the file. Unset variables leave file values alone.
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:52538"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":52538"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Auth.ResourceScope == "" {
		c.Auth.ResourceScope = "User.Read"
	}
	if c.Auth.ExchangeTimeout == 0 {
		c.Auth.ExchangeTimeout = 10 * time.Second
	}
	if c.Auth.PostLogoutRedirectURL == "" && c.Auth.FrontendURL != "" {
		c.Auth.PostLogoutRedirectURL = strings.TrimRight(c.Auth.FrontendURL, "/") + "/login"
	}
	if c.Token.Issuer == "" {
		c.Token.Issuer = "authbridge"
	}
	if c.Token.TTL == 0 {
		c.Token.TTL = 24 * time.Hour
	}
	if c.State.Backend == "" {
		c.State.Backend = "memory"
	}
	if c.State.TTL == 0 {
		c.State.TTL = 10 * time.Minute
	}
	if c.State.SweepInterval == 0 {
		c.State.SweepInterval = 5 * time.Minute
	}
	if c.State.Redis.KeyPrefix == "" {
		c.State.Redis.KeyPrefix = "authbridge:state:"
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
	if c.Session.Path == "" {
		c.Session.Path = "data/sessions.db"
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "authbridge_session"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = c.Token.TTL
	}
}

// MinSigningSecretLen is the shortest accepted HMAC signing secret.
const MinSigningSecretLen = 32

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	switch {
	case c.Auth.GetIssuer() == "":
		return fmt.Errorf("%w: auth.provider or auth.tenant_id is required", ErrInvalid)
	case c.Auth.ClientID == "":
		return fmt.Errorf("%w: auth.client_id is required", ErrInvalid)
	case c.Auth.ClientSecret == "":
		return fmt.Errorf("%w: auth.client_secret is required", ErrInvalid)
	case c.Auth.FrontendURL == "":
		return fmt.Errorf("%w: auth.frontend_url is required", ErrInvalid)
	case len(c.Token.SigningSecret) < MinSigningSecretLen:
		return fmt.Errorf("%w: token.signing_secret must be at least %d bytes", ErrInvalid, MinSigningSecretLen)
	case c.Token.TTL < 0:
		return fmt.Errorf("%w: token.ttl must be positive", ErrInvalid)
	case c.State.TTL <= 0:
		return fmt.Errorf("%w: state.ttl must be positive", ErrInvalid)
	case c.State.SweepInterval <= 0:
		return fmt.Errorf("%w: state.sweep_interval must be positive", ErrInvalid)
	}

	switch c.State.Backend {
	case "memory":
	case "redis":
		if c.State.Redis.Addr == "" {
			return fmt.Errorf("%w: state.redis.addr is required for the redis backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown state.backend %q", ErrInvalid, c.State.Backend)
	}

	if c.Session.Enabled {
		switch c.Session.Backend {
		case "memory", "sqlite":
		default:
			return fmt.Errorf("%w: unknown session.backend %q", ErrInvalid, c.Session.Backend)
		}
	}

	return nil
}

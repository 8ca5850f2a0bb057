// Package config loads all runtime configuration from environment variables
// using struct tags parsed by caarlos0/env.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration for Perseo.
type Config struct {
	HTTP   HTTPConfig
	DB     DBConfig
	Log    LogConfig
	JWT    JWTConfig
	Auth   AuthConfig
	App    AppConfig
	Worker WorkerConfig
	OTel   OTelConfig
}

// HTTPConfig holds HTTP server configuration. TrustedProxies is a comma
// separated CIDR list; forwarding headers from other peers are ignored.
type HTTPConfig struct {
	Port           int            `env:"HTTP_PORT" envDefault:"8080"`
	TrustedProxies []netip.Prefix `env:"HTTP_TRUSTED_PROXIES" envSeparator:","`
}

// DBConfig holds database connection configuration.
type DBConfig struct {
	Driver   string `env:"DB_DRIVER" envDefault:"sqlite"` // "sqlite" or "postgres"
	File     string `env:"DB_FILE" envDefault:"perseo.db"`
	DSN      string `env:"DB_DSN"` // overrides the discrete postgres fields when set
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"perseo"`
	Password string `env:"DB_PASSWORD"` //nolint:gosec // intentional: holds database password loaded from env
	Name     string `env:"DB_NAME" envDefault:"perseo"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns int    `env:"DB_MAX_CONNS" envDefault:"25"`
}

// PostgresDSN returns DSN when set, otherwise a URL assembled from the
// discrete connection fields.
func (c *DBConfig) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	return u.String()
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// JWTConfig holds JSON Web Token signing and expiry settings.
type JWTConfig struct {
	Secret     string        `env:"JWT_SECRET"` //nolint:gosec // intentional: holds JWT signing secret loaded from env
	Issuer     string        `env:"JWT_ISSUER" envDefault:"perseo"`
	AccessTTL  time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL time.Duration `env:"JWT_REFRESH_TTL" envDefault:"720h"`
}

// AuthConfig holds login throttling and cookie settings.
type AuthConfig struct {
	LoginRate    float64 `env:"AUTH_LOGIN_RATE" envDefault:"1"`
	LoginBurst   int     `env:"AUTH_LOGIN_BURST" envDefault:"10"`
	CookieSecure bool    `env:"COOKIE_SECURE" envDefault:"false"`
}

// AppConfig holds application-level settings such as seed credentials.
type AppConfig struct {
	SeedAdminEmail    string `env:"SEED_ADMIN_EMAIL" envDefault:"admin@perseo.local"`
	SeedAdminPassword string `env:"SEED_ADMIN_PASSWORD"` //nolint:gosec // intentional: seed password loaded from env
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Concurrency          int           `env:"WORKER_CONCURRENCY" envDefault:"10"`
	TokenCleanupInterval time.Duration `env:"WORKER_TOKEN_CLEANUP_INTERVAL" envDefault:"1h"`
}

// OTelConfig holds OpenTelemetry exporter settings.
type OTelConfig struct {
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads configuration from environment variables, applies defaults,
// and returns an error if any required field is absent.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	switch cfg.DB.Driver {
	case "sqlite":
	case "postgres":
		if cfg.DB.DSN == "" && (cfg.DB.Port <= 0 || cfg.DB.Port > 65535) {
			return nil, fmt.Errorf("DB_PORT %d is out of range", cfg.DB.Port)
		}
	default:
		return nil, fmt.Errorf("DB_DRIVER %q is not supported", cfg.DB.Driver)
	}

	if cfg.JWT.Secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.JWT.AccessTTL <= 0 {
		return nil, errors.New("JWT_ACCESS_TTL must be positive")
	}
	if cfg.JWT.RefreshTTL <= 0 {
		return nil, errors.New("JWT_REFRESH_TTL must be positive")
	}
	return cfg, nil
}

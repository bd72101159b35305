package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	EnvDevelopment = "development"

	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	minProductionKeyBytes = 32
)

// Config is the process configuration. It is loaded once at start-up and
// passed by pointer; nothing mutates it afterwards.
type Config struct {
	Environment string `env:"AUTH_ENV" envDefault:"development"`
	LogLevel    string `env:"AUTH_LOG_LEVEL" envDefault:"info"`
	Version     string `env:"AUTH_VERSION" envDefault:"dev"`
	Commit      string `env:"AUTH_COMMIT" envDefault:"none"`

	HTTPAddr string `env:"AUTH_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"AUTH_GRPC_ADDR" envDefault:":9090"`

	Storage     string `env:"AUTH_STORAGE" envDefault:"postgres"`
	PostgresDSN string `env:"AUTH_PG_DSN"`
	AutoMigrate bool   `env:"AUTH_AUTO_MIGRATE" envDefault:"false"`

	SigningKey      string        `env:"AUTH_SIGNING_KEY"`
	Issuer          string        `env:"AUTH_ISSUER" envDefault:"sessiond"`
	AccessTTL       time.Duration `env:"AUTH_ACCESS_TTL" envDefault:"30m"`
	RefreshTTLDays  int           `env:"AUTH_REFRESH_TTL_DAYS" envDefault:"7"`
	RefreshPolicy   string        `env:"AUTH_REFRESH_POLICY" envDefault:"rotate"`
	BcryptCost      int           `env:"AUTH_BCRYPT_COST" envDefault:"12"`
	RequestTimeout  time.Duration `env:"AUTH_REQUEST_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"AUTH_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	RedisAddr        string        `env:"AUTH_REDIS_ADDR"`
	RedisPassword    string        `env:"AUTH_REDIS_PASSWORD"`
	LoginMaxAttempts int           `env:"AUTH_LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginCooldown    time.Duration `env:"AUTH_LOGIN_COOLDOWN" envDefault:"15m"`

	KafkaBrokers []string `env:"AUTH_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"AUTH_KAFKA_TOPIC" envDefault:"session-events"`

	RateBurst     int      `env:"AUTH_RATE_BURST" envDefault:"20"`
	RatePerSecond int      `env:"AUTH_RATE_PER_SECOND" envDefault:"10"`
	CORSOrigins   []string `env:"AUTH_CORS_ORIGINS" envSeparator:","`

	// TrustedProxies lists peers whose X-Forwarded-For is believed.
	TrustedProxies []string `env:"AUTH_TRUSTED_PROXIES" envSeparator:","`

	BootstrapAdminUsername string `env:"AUTH_BOOTSTRAP_ADMIN_USERNAME"`
	BootstrapAdminEmail    string `env:"AUTH_BOOTSTRAP_ADMIN_EMAIL"`
	BootstrapAdminPassword string `env:"AUTH_BOOTSTRAP_ADMIN_PASSWORD"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	c.RefreshPolicy = strings.ToLower(strings.TrimSpace(c.RefreshPolicy))
	c.KafkaBrokers = compact(c.KafkaBrokers)
	c.CORSOrigins = compact(c.CORSOrigins)
	c.TrustedProxies = compact(c.TrustedProxies)
}

// Validate reports the first configuration problem.
func (c *Config) Validate() error {
	if c.SigningKey == "" {
		return errors.New("AUTH_SIGNING_KEY is required")
	}
	if c.Environment != EnvDevelopment && len(c.SigningKey) < minProductionKeyBytes {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least %d bytes in %q mode, got %d", minProductionKeyBytes, c.Environment, len(c.SigningKey))
	}
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("AUTH_PG_DSN is required for postgres storage")
		}
	default:
		return fmt.Errorf("AUTH_STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Storage)
	}
	switch c.RefreshPolicy {
	case "rotate", "reuse":
	default:
		return fmt.Errorf("AUTH_REFRESH_POLICY must be rotate or reuse, got %q", c.RefreshPolicy)
	}
	if c.AccessTTL <= 0 {
		return errors.New("AUTH_ACCESS_TTL must be positive")
	}
	if c.RefreshTTLDays <= 0 {
		return errors.New("AUTH_REFRESH_TTL_DAYS must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("AUTH_REQUEST_TIMEOUT must be positive")
	}
	if c.RateBurst <= 0 || c.RatePerSecond <= 0 {
		return errors.New("AUTH_RATE_BURST and AUTH_RATE_PER_SECOND must be positive")
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return fmt.Errorf("AUTH_TRUSTED_PROXIES: %w", err)
	}
	if c.bootstrapPartial() {
		return errors.New("AUTH_BOOTSTRAP_ADMIN_USERNAME, _EMAIL and _PASSWORD must be set together")
	}
	return nil
}

// RefreshTTL is the refresh token lifetime.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLDays) * 24 * time.Hour
}

// TrustedProxyPrefixes parses TrustedProxies; bare addresses become
// single-host prefixes.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range c.TrustedProxies {
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// BootstrapAdmin reports whether a bootstrap admin is configured.
func (c *Config) BootstrapAdmin() bool {
	return c.BootstrapAdminUsername != "" && c.BootstrapAdminEmail != "" && c.BootstrapAdminPassword != ""
}

func (c *Config) bootstrapPartial() bool {
	set := 0
	for _, v := range []string{c.BootstrapAdminUsername, c.BootstrapAdminEmail, c.BootstrapAdminPassword} {
		if v != "" {
			set++
		}
	}
	return set != 0 && set != 3
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/bazaar/internal/domain/storefront"
)

// Config holds the complete application configuration, loadable from
// environment variables (BAZAAR_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (BAZAAR_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ShareKey    string `usage:"HMAC key signing wishlist share tokens (BAZAAR_SHARE_KEY)" flag:"share-key"`
	Redis       RedisConfig
	Cache       storefront.TTLs
	Sweeper     SweeperConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// RedisConfig enables the Redis cache, cart lock and rate limiter. An empty
// Addr keeps everything in process.
type RedisConfig struct {
	Addr     string `default:"" usage:"Redis address (host:port); empty disables Redis"`
	Password string `default:"" usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database number"`
}

// SweeperConfig schedules the abandoned-cart sweep.
type SweeperConfig struct {
	Schedule     string        `default:"@every 10m" usage:"Cron schedule of the stale cart sweep"`
	AbandonAfter time.Duration `default:"72h" usage:"Idle time after which an active cart is abandoned" flag:"abandon-after"`
}

// RateLimitConfig controls the per-shopper rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BAZAAR",
		Files:     []string{"config.yaml", "/etc/bazaar/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set BAZAAR_DATABASE_URL or DATABASE_URL")
	case c.ShareKey == "":
		return errors.New("share key is required: set BAZAAR_SHARE_KEY")
	case c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0:
		return errors.New("rate limit max and window must be positive")
	case c.Sweeper.AbandonAfter <= 0:
		return errors.New("sweeper abandon-after must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's BAZAAR_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Redis.Addr == "" {
		if v := os.Getenv("REDIS_ADDR"); v != "" {
			c.Redis.Addr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

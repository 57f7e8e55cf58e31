package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Config struct {
	Port         int    `env:"PORT" envDefault:"9010"`
	SharedSecret string `env:"SHARED_SECRET,required,notEmpty"`
	Model        string `env:"MODEL" envDefault:"facebook/nllb-200-distilled-600M"`
	Version      string `env:"SCHEME_VERSION" envDefault:"1.0.0-zisk-sim"`
	// MaxAge of zero keeps certificates valid forever.
	MaxAge       time.Duration `env:"MAX_AGE" envDefault:"0s"`
	ClientSecret string        `env:"CLIENT_SECRET"`

	LedgerDir  string `env:"LEDGER_DIR" envDefault:"./data"`
	BatchSize  int    `env:"BATCH_SIZE" envDefault:"100"`
	PolicyPath string `env:"POLICY_PATH"`

	TranslatorURL     string        `env:"TRANSLATOR_URL"`
	TranslatorTimeout time.Duration `env:"TRANSLATOR_TIMEOUT" envDefault:"60s"`

	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"0"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	RedisAddr         string        `env:"REDIS_ADDR"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`
	RedisDB           int           `env:"REDIS_DB" envDefault:"0"`
	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding
	// headers name the client. Empty trusts none.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"90s"`
	Development  bool          `env:"DEVELOPMENT" envDefault:"false"`
}

const envPrefix = "ATTEST_"

// Load reads an optional .env file and then the ATTEST_* environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "load .env")
	}
	return Parse()
}

// Parse reads configuration from the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = 9010
	}
	if c.LedgerDir == "" {
		c.LedgerDir = "./data"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAge < 0 {
		c.MaxAge = 0
	}
	if c.TranslatorTimeout <= 0 {
		c.TranslatorTimeout = 60 * time.Second
	}
	if c.RateLimitRequests < 0 {
		c.RateLimitRequests = 0
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = time.Minute
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 90 * time.Second
	}
}

// LogFields describes the configuration without any secret material.
func (c Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.Int("port", c.Port),
		zap.String("model", c.Model),
		zap.String("scheme_version", c.Version),
		zap.Duration("max_age", c.MaxAge),
		zap.Bool("client_auth", c.ClientSecret != ""),
		zap.String("ledger_dir", c.LedgerDir),
		zap.Int("batch_size", c.BatchSize),
		zap.String("policy_path", c.PolicyPath),
		zap.Bool("translator", c.TranslatorURL != ""),
		zap.Int("rate_limit_requests", c.RateLimitRequests),
		zap.Duration("rate_limit_window", c.RateLimitWindow),
		zap.Bool("redis", c.RedisAddr != ""),
		zap.Strings("trusted_proxies", c.TrustedProxies),
	}
}

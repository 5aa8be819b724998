package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	AppURL       string `default:"http://localhost:3000" usage:"Storefront origin used for payment redirects" flag:"app-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Midtrans     MidtransConfig
	AMQP         AMQPConfig
	Outbox       OutboxConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// MidtransConfig holds payment provider credentials.
type MidtransConfig struct {
	ServerKey  string        `usage:"Midtrans server key, also the notification signing secret" flag:"midtrans-server-key"`
	ClientKey  string        `usage:"Midtrans client key for the storefront Snap widget" flag:"midtrans-client-key"`
	Production bool          `default:"false" usage:"Use the Midtrans production environment" flag:"midtrans-production"`
	BaseURL    string        `usage:"Override the Midtrans Snap base URL" flag:"midtrans-base-url"`
	Timeout    time.Duration `default:"5s" usage:"Snap API request timeout" flag:"midtrans-timeout"`
}

// AMQPConfig configures payment event publishing. Events are only logged
// when URL is empty.
type AMQPConfig struct {
	URL      string `usage:"RabbitMQ URL for payment events" flag:"amqp-url"`
	Exchange string `default:"shop.payments" usage:"Exchange payment events are published to" flag:"amqp-exchange"`
}

// OutboxConfig controls the payment event dispatcher.
type OutboxConfig struct {
	Interval  time.Duration `default:"2s" usage:"Outbox poll interval" flag:"outbox-interval"`
	BatchSize int           `default:"50" usage:"Outbox records claimed per poll" flag:"outbox-batch-size"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
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
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
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
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	case c.Midtrans.ServerKey == "":
		return errors.New("midtrans server key is required: set SHOP_MIDTRANS_SERVER_KEY or MIDTRANS_SERVER_KEY")
	case c.APIKeyPepper == "":
		return errors.New("api key pepper is required: set SHOP_API_KEY_PEPPER")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Midtrans.ServerKey == "" {
		c.Midtrans.ServerKey = os.Getenv("MIDTRANS_SERVER_KEY")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

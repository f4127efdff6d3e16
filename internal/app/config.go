package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config is loaded from PROMO_* environment variables, flags, or YAML.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (PROMO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
	Spin         SpinConfig
	Feedback     FeedbackConfig
	Redeem       RedeemConfig
	Kafka        KafkaConfig
}

// RateLimitConfig controls the per-client sliding window limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials" flag:"cors-credentials"`
}

// GracefulConfig controls shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// SpinConfig controls the prize wheel.
type SpinConfig struct {
	TTL time.Duration `default:"15m" usage:"How long a spin prize stays redeemable" flag:"spin-ttl"`
}

// FeedbackConfig controls feedback coupon issuance.
type FeedbackConfig struct {
	TTL          time.Duration `default:"720h" usage:"Feedback coupon lifetime" flag:"feedback-ttl"`
	CodeAttempts int           `default:"5" usage:"Retries on coupon code collisions" flag:"feedback-code-attempts"`
}

// RedeemConfig controls retries of catalog redemption transactions.
type RedeemConfig struct {
	MaxRetries   int           `default:"3" usage:"Retries on serialization failures and deadlocks" flag:"redeem-max-retries"`
	RetryBackoff time.Duration `default:"50ms" usage:"Base backoff between retries" flag:"redeem-retry-backoff"`
}

// KafkaConfig selects where redemption events go. No brokers disables
// publishing.
type KafkaConfig struct {
	Brokers           []string `usage:"Kafka seed brokers" flag:"kafka-brokers"`
	Topic             string   `default:"promo.redemptions" usage:"Redemption event topic" flag:"kafka-topic"`
	ClientID          string   `default:"promo-engine" usage:"Kafka client id" flag:"kafka-client-id"`
	Partitions        int32    `default:"3" usage:"Partitions when creating the topic" flag:"kafka-partitions"`
	ReplicationFactor int16    `default:"-1" usage:"Replication factor when creating the topic" flag:"kafka-replication-factor"`
}

// LoadConfig loads the configuration and applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PROMO",
		Files:     []string{"config.yaml", "/etc/promo/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults(os.Getenv)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults honours DATABASE_URL and PORT as set by hosting
// platforms.
func (c *Config) applyPlatformDefaults(getenv func(string) string) {
	if c.DatabaseURL == "" {
		c.DatabaseURL = getenv("DATABASE_URL")
	}
	if port := getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set PROMO_DATABASE_URL or DATABASE_URL")
	case c.Redeem.MaxRetries < 0:
		return errors.New("redeem max retries must not be negative")
	case c.Spin.TTL <= 0:
		return errors.New("spin TTL must be positive")
	case c.Feedback.TTL <= 0:
		return errors.New("feedback TTL must be positive")
	}
	return nil
}

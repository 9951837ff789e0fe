package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/notifyhub/dispatch/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL and REDIS_URL are required.
type Config struct {
	// Server
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Database
	DatabaseURL   string `env:"DATABASE_URL,required"`
	DBMaxConns    int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns    int32  `env:"DB_MIN_CONNS" envDefault:"5"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// Queue broker
	RedisURL string `env:"REDIS_URL,required"`

	// Retry policy
	MaxRetryAttempts  int `env:"MAX_RETRY_ATTEMPTS" envDefault:"3"`
	RetryDelayMS      int `env:"RETRY_DELAY_MS" envDefault:"5000"`
	BackoffMultiplier int `env:"BACKOFF_MULTIPLIER" envDefault:"2"`

	// Worker pools (one pool per queue)
	QueueConcurrency         int `env:"QUEUE_CONCURRENCY" envDefault:"10"`
	PriorityQueueConcurrency int `env:"PRIORITY_QUEUE_CONCURRENCY" envDefault:"20"`

	// Rate limiting: maximum provider calls per second per channel.
	// The per-channel values override the shared default when positive,
	// matching each external provider's throughput budget.
	RateLimit         int `env:"RATE_LIMIT_PER_CHANNEL" envDefault:"100"`
	EmailRateLimit    int `env:"EMAIL_RATE_LIMIT" envDefault:"0"`
	SMSRateLimit      int `env:"SMS_RATE_LIMIT" envDefault:"0"`
	WhatsAppRateLimit int `env:"WHATSAPP_RATE_LIMIT" envDefault:"0"`
	PushRateLimit     int `env:"PUSH_RATE_LIMIT" envDefault:"0"`

	// Providers
	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`
	PostmarkServerToken  string        `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string        `env:"POSTMARK_ACCOUNT_TOKEN"`
	EmailSender          string        `env:"EMAIL_SENDER"`
	SMSGatewayURL        string        `env:"SMS_GATEWAY_URL"`
	SMSAPIKey            string        `env:"SMS_API_KEY"`
	WhatsAppGatewayURL   string        `env:"WHATSAPP_GATEWAY_URL"`
	WhatsAppAPIKey       string        `env:"WHATSAPP_API_KEY"`
	PushGatewayURL       string        `env:"PUSH_GATEWAY_URL"`
	PushAPIKey           string        `env:"PUSH_API_KEY"`

	// Background loop intervals
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"10s"`
	ReaperInterval    time.Duration `env:"REAPER_INTERVAL" envDefault:"60s"`
	// How long a transaction may sit in PENDING before the reaper
	// rolls it forward to the dead letter state.
	PendingTTL time.Duration `env:"PENDING_TTL" envDefault:"5m"`
}

// Load reads an optional .env file, then parses the environment into a Config.
func Load() (*Config, error) {
	// The .env file is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// ChannelRateLimits maps each channel to its configured provider-call
// rate; zero entries fall back to RateLimit inside the limiter.
func (c *Config) ChannelRateLimits() map[domain.Channel]int {
	return map[domain.Channel]int{
		domain.ChannelEmail:    c.EmailRateLimit,
		domain.ChannelSMS:      c.SMSRateLimit,
		domain.ChannelWhatsApp: c.WhatsAppRateLimit,
		domain.ChannelPush:     c.PushRateLimit,
	}
}

// BackoffFor returns the delay before retry attempt n (n >= 1):
// base * multiplier^(n-1).
func (c *Config) BackoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(c.RetryDelayMS) * time.Millisecond
	for i := 1; i < attempt; i++ {
		d *= time.Duration(c.BackoffMultiplier)
	}
	return d
}

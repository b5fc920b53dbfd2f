package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Config is the process configuration read from the environment. The OIDC
// client id, session secret and bot token have no defaults: startup fails
// without them.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8431"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	OIDCClientID      string        `env:"OIDC_CLIENT_ID,required,notEmpty"`
	OIDCIssuer        string        `env:"OIDC_ISSUER" envDefault:"https://accounts.google.com"`
	OIDCJWKSURL       string        `env:"OIDC_JWKS_URL" envDefault:"https://www.googleapis.com/oauth2/v3/certs"`
	OIDCVerifyTimeout time.Duration `env:"OIDC_VERIFY_TIMEOUT" envDefault:"5s"`

	JWTSecret string `env:"JWT_SECRET_KEY,required,notEmpty"`
	JWTIssuer string `env:"JWT_ISSUER"`

	ChatBotToken      string        `env:"CHAT_BOT_TOKEN,required,notEmpty"`
	ChatAuthMaxAge    time.Duration `env:"CHAT_AUTH_MAX_AGE" envDefault:"0s"`
	ChatBotAPIURL     string        `env:"CHAT_BOT_API_URL" envDefault:"https://api.telegram.org"`
	ChatWebhookSecret string        `env:"CHAT_WEBHOOK_SECRET"`

	NotifyQueue   string        `env:"NOTIFY_QUEUE" envDefault:"memory"`
	NotifyWorkers int           `env:"NOTIFY_WORKERS" envDefault:"2"`
	NotifyBuffer  int           `env:"NOTIFY_BUFFER" envDefault:"256"`
	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisQueueKey string `env:"REDIS_QUEUE_KEY" envDefault:"notify:phone-requests"`
}

// Load parses and validates the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.NotifyQueue {
	case QueueMemory, QueueRedis:
	default:
		return fmt.Errorf("NOTIFY_QUEUE must be %q or %q, got %q", QueueMemory, QueueRedis, c.NotifyQueue)
	}
	if c.NotifyWorkers < 1 {
		return fmt.Errorf("NOTIFY_WORKERS must be at least 1")
	}
	if c.NotifyBuffer < 1 {
		return fmt.Errorf("NOTIFY_BUFFER must be at least 1")
	}
	if c.ChatAuthMaxAge < 0 {
		return fmt.Errorf("CHAT_AUTH_MAX_AGE must not be negative")
	}
	return nil
}

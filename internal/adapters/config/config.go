package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"ecliptica/pkg/errors"
)

type Config struct {
	App           AppConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Telegram      TelegramConfig
	Completion    CompletionConfig
	Coinbase      CoinbaseConfig
	Subscription  SubscriptionConfig
	Server        ServerConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"ecliptica"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type TelegramConfig struct {
	BotToken   string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	BotName    string `envconfig:"TELEGRAM_BOT_NAME" default:"ecliptica_bot"`
	WebhookURL string `envconfig:"TELEGRAM_WEBHOOK_URL"`
}

// CompletionConfig configures the primary REI backend and the OpenAI alternate.
// Timeouts are deliberately short: a chat user waits on every call.
type CompletionConfig struct {
	REIBaseURL       string        `envconfig:"REI_BASE_URL" default:"https://api.reisearch.box/v1"`
	REIAPIKey        string        `envconfig:"REICORE_API_KEY" required:"true"`
	REIModel         string        `envconfig:"REI_MODEL" default:"rei-core-chat-001"`
	OpenAIKey        string        `envconfig:"OPENAI_API_KEY"`
	OpenAIModel      string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	PrimaryTimeout   time.Duration `envconfig:"COMPLETION_PRIMARY_TIMEOUT" default:"60s"`
	AlternateTimeout time.Duration `envconfig:"COMPLETION_ALTERNATE_TIMEOUT" default:"20s"`
	MaxAttempts      int           `envconfig:"COMPLETION_MAX_ATTEMPTS" default:"3"`
	Temperature      float64       `envconfig:"COMPLETION_TEMPERATURE" default:"0.2"`
	MaxTokens        int           `envconfig:"COMPLETION_MAX_TOKENS" default:"1024"`
	AlternateTokens  int           `envconfig:"COMPLETION_ALTERNATE_MAX_TOKENS" default:"512"`
	CacheTTL         time.Duration `envconfig:"COMPLETION_CACHE_TTL" default:"1h"`
}

type CoinbaseConfig struct {
	APIKey        string `envconfig:"COINBASE_API_KEY"`
	WebhookSecret string `envconfig:"COINBASE_WEBHOOK_SECRET"`
	BaseURL       string `envconfig:"COINBASE_BASE_URL" default:"https://api.commerce.coinbase.com"`
}

type SubscriptionConfig struct {
	FreeLimit       int           `envconfig:"FREE_ANALYSIS_LIMIT" default:"5"`
	BusyFailsafe    time.Duration `envconfig:"BUSY_FAILSAFE_WINDOW" default:"5m"`
	RenewalInterval time.Duration `envconfig:"RENEWAL_CHECK_INTERVAL" default:"24h"`
}

type ServerConfig struct {
	Port int `envconfig:"HTTP_PORT" default:"8080"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Engine    EngineConfig
	Scheduler SchedulerConfig
	Providers ProviderConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// EngineConfig holds execution engine settings
type EngineConfig struct {
	// Max parallel activations for a single fan-out
	FanOutConcurrency int
	// Default per-attempt node deadline when the node declares none
	DefaultNodeTimeout time.Duration
	// Wall-clock budget for a single conversion function evaluation
	ConversionBudget time.Duration
	// CEL cost ceiling for a single conversion function evaluation
	ConversionCostLimit uint64
	// How often the HIL watcher scans for expired interactions
	HILScanInterval time.Duration
}

// SchedulerConfig holds trigger scheduler settings
type SchedulerConfig struct {
	// Upper bound for the deterministic per-workflow cron jitter
	CronJitterMax time.Duration
	// TTL of the single-flight lock held around a cron fire
	CronLockTTL time.Duration
	// Shared secret for generic webhook signature verification
	WebhookSecret string
	// Base URL of the engine control API
	EngineURL string
}

// ProviderConfig holds external provider credentials
type ProviderConfig struct {
	OpenAIAPIKey string
	// Anthropic models are reached through their OpenAI-compatible
	// endpoint, so one client type serves both providers
	AnthropicAPIKey  string
	AnthropicBaseURL string
	SlackBotToken    string
	SMTPHost         string
	SMTPPort         int
	SMTPUser         string
	SMTPPassword     string
	SMTPFrom         string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "weavr"),
			User:        getEnv("POSTGRES_USER", "weavr"),
			Password:    getEnv("POSTGRES_PASSWORD", "weavr"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			FanOutConcurrency:   getEnvInt("ENGINE_FANOUT_CONCURRENCY", 4),
			DefaultNodeTimeout:  getEnvDuration("ENGINE_DEFAULT_NODE_TIMEOUT", 30*time.Second),
			ConversionBudget:    getEnvDuration("ENGINE_CONVERSION_BUDGET", 200*time.Millisecond),
			ConversionCostLimit: uint64(getEnvInt("ENGINE_CONVERSION_COST_LIMIT", 1_000_000)),
			HILScanInterval:     getEnvDuration("ENGINE_HIL_SCAN_INTERVAL", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			CronJitterMax: getEnvDuration("SCHEDULER_CRON_JITTER_MAX", 30*time.Second),
			CronLockTTL:   getEnvDuration("SCHEDULER_CRON_LOCK_TTL", 5*time.Minute),
			WebhookSecret: getEnv("SCHEDULER_WEBHOOK_SECRET", ""),
			EngineURL:     getEnv("ENGINE_URL", "http://localhost:8081"),
		},
		Providers: ProviderConfig{
			OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
			AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
			SlackBotToken:    getEnv("SLACK_BOT_TOKEN", ""),
			SMTPHost:         getEnv("SMTP_HOST", "localhost"),
			SMTPPort:         getEnvInt("SMTP_PORT", 587),
			SMTPUser:         getEnv("SMTP_USER", ""),
			SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
			SMTPFrom:         getEnv("SMTP_FROM", "noreply@weavr.local"),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Engine.FanOutConcurrency < 1 {
		return fmt.Errorf("fan-out concurrency must be >= 1")
	}

	if c.Scheduler.CronLockTTL < 5*time.Minute {
		return fmt.Errorf("cron lock TTL must be >= 5m")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns the Redis address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

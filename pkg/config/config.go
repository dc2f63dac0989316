package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     string
	LogLevel string

	RedisURL    string
	PostgresDSN string

	AppSecret   string
	VerifyToken string

	DedupRetentionHours int
	ReopenGraceHours    int
	RequestBudgetMS     int64
	MaxTextLen          int

	RoutingConfigPath string

	AlertAMQPURL string
	AlertQueue   string

	GraphAPIBaseURL string
	AccessToken     string
}

func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		AppSecret:   getEnv("META_APP_SECRET", ""),
		VerifyToken: getEnv("WEBHOOK_VERIFY_TOKEN", ""),

		DedupRetentionHours: getEnvInt("DEDUP_RETENTION_HOURS", 24),
		ReopenGraceHours:    getEnvInt("REOPEN_GRACE_HOURS", 72),
		RequestBudgetMS:     getEnvInt64("REQUEST_BUDGET_MS", 5000),
		MaxTextLen:          getEnvInt("MAX_TEXT_LEN", 2048),

		RoutingConfigPath: getEnv("ROUTING_CONFIG", ""),

		AlertAMQPURL: getEnv("ALERT_AMQP_URL", ""),
		AlertQueue:   getEnv("ALERT_QUEUE", "operator_alerts"),

		GraphAPIBaseURL: getEnv("GRAPH_API_BASE_URL", "https://graph.instagram.com/v21.0"),
		AccessToken:     getEnv("INSTAGRAM_ACCESS_TOKEN", ""),
	}
}

func (c *Config) DedupRetention() time.Duration {
	return time.Duration(c.DedupRetentionHours) * time.Hour
}

func (c *Config) ReopenGrace() time.Duration {
	return time.Duration(c.ReopenGraceHours) * time.Hour
}

func (c *Config) RequestBudget() time.Duration {
	return time.Duration(c.RequestBudgetMS) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

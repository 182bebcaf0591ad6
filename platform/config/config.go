// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq client and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqConcurrency() int
}

// ProviderConfig provides environment-level fallback credentials for the
// WhatsApp provider. Campaign and tenant credentials take precedence.
type ProviderConfig interface {
	GetProviderBaseURL() string
	GetProviderToken() string
	GetProviderPhoneID() string
}

// AIConfig provides settings for the AI provider client.
type AIConfig interface {
	GetGeminiAPIKey() string
	GetAIModel() string
}

// CacheConfig provides settings for the redis-backed tenant config cache.
type CacheConfig interface {
	GetRedisURL() string
	GetConfigCacheTTL() time.Duration
}

// AlertMailConfig provides settings for the operator alert email channel.
type AlertMailConfig interface {
	GetAlertMailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUser() string
	GetSMTPPassword() string
	GetAlertMailFrom() string
	GetAlertMailTo() string
}

// CoreConfig provides process-wide defaults for the conversation core.
// Tenant-level values override these.
type CoreConfig interface {
	GetBufferQuietPeriod() time.Duration
	GetRecoveryTimeoutMinutes() int
	GetMaxUnansweredDefault() int
	GetDemoMinutesDefault() int
	GetKeywordSeedPath() string
	GetWebhookRateLimit() float64
	GetWebhookRateBurst() int
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	HTTPAddr               string
	DatabaseURL            string
	RedisURL               string
	RedisTLSInsecure       bool
	AsynqConcurrency       int
	CORSAllowAll           bool
	CORSOrigins            []string
	CORSAllowCreds         bool
	ProviderBaseURL        string
	ProviderToken          string
	ProviderPhoneID        string
	GeminiAPIKey           string
	AIModel                string
	ConfigCacheTTL         time.Duration
	BufferQuietPeriod      time.Duration
	RecoveryTimeoutMinutes int
	MaxUnansweredDefault   int
	DemoMinutesDefault     int
	KeywordSeedPath        string
	WebhookRateLimit       float64
	WebhookRateBurst       int
	AlertMailEnabled       bool
	SMTPHost               string
	SMTPPort               int
	SMTPUser               string
	SMTPPassword           string
	AlertMailFrom          string
	AlertMailTo            string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// ProviderConfig implementation
func (c *Config) GetProviderBaseURL() string { return c.ProviderBaseURL }
func (c *Config) GetProviderToken() string   { return c.ProviderToken }
func (c *Config) GetProviderPhoneID() string { return c.ProviderPhoneID }

// AIConfig implementation
func (c *Config) GetGeminiAPIKey() string { return c.GeminiAPIKey }
func (c *Config) GetAIModel() string      { return c.AIModel }

// CacheConfig implementation
func (c *Config) GetConfigCacheTTL() time.Duration { return c.ConfigCacheTTL }

// AlertMailConfig implementation
func (c *Config) GetAlertMailEnabled() bool { return c.AlertMailEnabled }
func (c *Config) GetSMTPHost() string       { return c.SMTPHost }
func (c *Config) GetSMTPPort() int          { return c.SMTPPort }
func (c *Config) GetSMTPUser() string       { return c.SMTPUser }
func (c *Config) GetSMTPPassword() string   { return c.SMTPPassword }
func (c *Config) GetAlertMailFrom() string  { return c.AlertMailFrom }
func (c *Config) GetAlertMailTo() string    { return c.AlertMailTo }

// CoreConfig implementation
func (c *Config) GetBufferQuietPeriod() time.Duration { return c.BufferQuietPeriod }
func (c *Config) GetRecoveryTimeoutMinutes() int      { return c.RecoveryTimeoutMinutes }
func (c *Config) GetMaxUnansweredDefault() int        { return c.MaxUnansweredDefault }
func (c *Config) GetDemoMinutesDefault() int          { return c.DemoMinutesDefault }
func (c *Config) GetKeywordSeedPath() string          { return c.KeywordSeedPath }
func (c *Config) GetWebhookRateLimit() float64        { return c.WebhookRateLimit }
func (c *Config) GetWebhookRateBurst() int            { return c.WebhookRateBurst }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                    getEnv("APP_ENV", "development"),
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		RedisURL:               getEnv("REDIS_URL", ""),
		RedisTLSInsecure:       strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqConcurrency:       mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		CORSAllowAll:           strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true"),
		CORSOrigins:            splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200")),
		CORSAllowCreds:         strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		ProviderBaseURL:        getEnv("WHATSAPP_API_URL", "https://graph.facebook.com/v19.0"),
		ProviderToken:          getEnv("WHATSAPP_API_TOKEN", ""),
		ProviderPhoneID:        getEnv("WHATSAPP_PHONE_ID", ""),
		GeminiAPIKey:           getEnv("GEMINI_API_KEY", ""),
		AIModel:                getEnv("AI_MODEL", "gemini-2.0-flash"),
		ConfigCacheTTL:         mustDuration(getEnv("CONFIG_CACHE_TTL", "5m")),
		BufferQuietPeriod:      mustDuration(getEnv("BUFFER_QUIET_PERIOD", "8s")),
		RecoveryTimeoutMinutes: mustInt(getEnv("RECOVERY_TIMEOUT_MINUTES", "240")),
		MaxUnansweredDefault:   mustInt(getEnv("MAX_UNANSWERED_MESSAGES", "5")),
		DemoMinutesDefault:     mustInt(getEnv("DEMO_MINUTES", "10")),
		KeywordSeedPath:        getEnv("KEYWORD_SEED_PATH", "config/keywords.yaml"),
		WebhookRateLimit:       mustFloat(getEnv("WEBHOOK_RATE_LIMIT", "50")),
		WebhookRateBurst:       mustInt(getEnv("WEBHOOK_RATE_BURST", "100")),
		AlertMailEnabled:       strings.EqualFold(getEnv("ALERT_MAIL_ENABLED", "false"), "true"),
		SMTPHost:               getEnv("SMTP_HOST", ""),
		SMTPPort:               mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUser:               getEnv("SMTP_USER", ""),
		SMTPPassword:           getEnv("SMTP_PASSWORD", ""),
		AlertMailFrom:          getEnv("ALERT_MAIL_FROM", ""),
		AlertMailTo:            getEnv("ALERT_MAIL_TO", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.AlertMailEnabled && (cfg.SMTPHost == "" || cfg.AlertMailFrom == "" || cfg.AlertMailTo == "") {
		return nil, fmt.Errorf("SMTP_HOST, ALERT_MAIL_FROM and ALERT_MAIL_TO are required when ALERT_MAIL_ENABLED is true")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port      string
	DBDialect string // "sqlite" or "postgres"
	DBDSN     string

	// Directory holding per-tenant WhatsApp credential stores.
	AuthDataDir string

	// Tenant ids exempt from entitlement checks (owner/demo accounts).
	FreePassTenants map[string]bool

	// Reconnect policy for a disconnect episode.
	RetryLimit     int
	RetryBackoff   time.Duration
	QRInTerminal   bool
	DedupWindow    time.Duration
	ConfigCacheTTL time.Duration

	// Outbound notification sinks.
	GlobalWebhookURL string
	WebhookFormat    string // "json" or "form"
	AMQPURL          string
	AMQPQueuePrefix  string

	GeminiAPIKey string
	GeminiModel  string

	// Token required on /api/admin routes. Empty disables them.
	AdminToken string
}

// Load reads configuration from environment variables, loading a .env file
// first if one is present. Environment variables take precedence.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DBDialect:        getEnv("DB_DIALECT", "sqlite"),
		DBDSN:            getEnv("DB_DSN", "file:botly.db?_pragma=foreign_keys(1)"),
		AuthDataDir:      getEnv("AUTH_DATA_DIR", ".wa_auth"),
		FreePassTenants:  splitSet(os.Getenv("FREE_PASS_TENANTS")),
		RetryLimit:       getEnvInt("RETRY_LIMIT", 5),
		RetryBackoff:     getEnvDuration("RETRY_BACKOFF", 3*time.Second),
		QRInTerminal:     os.Getenv("QR_IN_TERMINAL") == "true",
		DedupWindow:      getEnvDuration("DEDUP_WINDOW", 60*time.Second),
		ConfigCacheTTL:   getEnvDuration("CONFIG_CACHE_TTL", 30*time.Second),
		GlobalWebhookURL: os.Getenv("GLOBAL_WEBHOOK_URL"),
		WebhookFormat:    getEnv("WEBHOOK_FORMAT", "form"),
		AMQPURL:          os.Getenv("AMQP_URL"),
		AMQPQueuePrefix:  getEnv("AMQP_QUEUE_PREFIX", "botly"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		AdminToken:       os.Getenv("ADMIN_TOKEN"),
	}

	if len(cfg.FreePassTenants) > 0 {
		log.Info().Int("count", len(cfg.FreePassTenants)).Msg("Free-pass tenants configured")
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration in environment, using default")
		return fallback
	}
	return d
}

func splitSet(s string) map[string]bool {
	out := make(map[string]bool)
	if s == "" {
		return out
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out[part] = true
		}
	}
	return out
}

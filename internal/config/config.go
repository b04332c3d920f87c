package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// It is immutable after Load() returns.
type Config struct {
	Port             int
	Environment      string
	DatabaseURL      string
	DatabaseMaxConns int
	RedisURL         string

	// Provider (embedding + rerank) settings
	ProviderBaseURL     string
	ProviderAPIKeys     []string
	EmbeddingModel      string
	RerankModel         string
	EmbeddingDimensions int

	// Governance
	MaxRequestsPerMinute int
	ThreatWebhookURL     string
	WeekStartDay         time.Weekday
	WeekTimezone         string

	// Rendered links
	SubscriptionURL string
	UpgradeURL      string
	FrontendURL     string
}

// Load reads configuration from environment variables.
// Required variables (DATABASE_URL, PROVIDER_API_KEYS) cause an error if missing.
// Optional variables use sensible defaults.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	keys := splitKeys(os.Getenv("PROVIDER_API_KEYS"))
	if len(keys) == 0 {
		return nil, fmt.Errorf("config.Load: PROVIDER_API_KEYS is required")
	}

	cfg := &Config{
		Port:             envInt("PORT", 8080),
		Environment:      envStr("ENVIRONMENT", "development"),
		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),
		RedisURL:         envStr("REDIS_URL", ""),

		ProviderBaseURL:     envStr("PROVIDER_BASE_URL", "https://api.siliconflow.cn/v1"),
		ProviderAPIKeys:     keys,
		EmbeddingModel:      envStr("EMBEDDING_MODEL", "Qwen/Qwen3-Embedding-4B"),
		RerankModel:         envStr("RERANK_MODEL", "Qwen/Qwen3-Reranker-4B"),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 2560),

		MaxRequestsPerMinute: envInt("MAX_REQUESTS_PER_MINUTE", 30),
		ThreatWebhookURL:     envStr("THREAT_WEBHOOK_URL", ""),
		WeekStartDay:         envWeekday("WEEK_START_DAY", time.Sunday),
		WeekTimezone:         envStr("WEEK_TIMEZONE", "UTC"),

		SubscriptionURL: envStr("SUBSCRIPTION_URL", "https://apple-rag.com/#pricing"),
		UpgradeURL:      envStr("UPGRADE_URL", "https://apple-rag.com/dashboard"),
		FrontendURL:     envStr("FRONTEND_URL", "http://localhost:3000"),
	}

	return cfg, nil
}

// WeekLocation resolves the configured week-boundary timezone, falling
// back to UTC when the name cannot be loaded.
func (c *Config) WeekLocation() *time.Location {
	loc, err := time.LoadLocation(c.WeekTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// splitKeys parses a comma-separated key list, dropping empty entries.
func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envWeekday(key string, fallback time.Weekday) time.Weekday {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	days := map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday,
		"friday": time.Friday, "saturday": time.Saturday,
	}
	if d, ok := days[v]; ok {
		return d
	}
	return fallback
}

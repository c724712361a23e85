// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Storage
	DatabaseURL string

	// Completion service
	LLMProvider          string // groq | openai | gemini
	LLMAPIKey            string
	LLMBaseURL           string
	LLMModel             string
	LLMTemperature       float32
	LLMMaxTokens         int
	RateLimitRetries     int
	RateLimitDefaultWait time.Duration

	// Feeds
	FeedsConfigPath string
	FeedItemLimit   int
	FeedConcurrency int
	FeedTimeout     time.Duration
	SeenCacheTTL    time.Duration

	// Pipeline
	ClusterThreshold      float64
	HarvestInterval       time.Duration
	DrainMinInterval      time.Duration
	DrainMaxInterval      time.Duration
	MaxGenerationFailures int
	MaxDailyGenerations   int

	// Optional collaborators
	RedisURL       string
	TelegramToken  string
	TelegramChatID string

	// HTTP
	HTTPAddr    string
	CORSOrigins []string
	SiteURL     string

	LogLevel string
	Debug    bool
}

func Load() (*Config, error) {
	cfg := &Config{
		LLMProvider:           "groq",
		LLMTemperature:        0.7,
		LLMMaxTokens:          2048,
		RateLimitRetries:      3,
		RateLimitDefaultWait:  60 * time.Second,
		FeedsConfigPath:       "configs/feeds.yaml",
		FeedItemLimit:         10,
		FeedConcurrency:       4,
		FeedTimeout:           15 * time.Second,
		SeenCacheTTL:          time.Hour,
		ClusterThreshold:      0.5,
		HarvestInterval:       30 * time.Minute,
		DrainMinInterval:      3 * time.Minute,
		DrainMaxInterval:      10 * time.Minute,
		MaxGenerationFailures: 5,
		HTTPAddr:              ":8080",
		SiteURL:               "http://localhost:3000",
		LogLevel:              "info",
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")

	cfg.LLMProvider = strings.ToLower(getEnvOrDefault("LLM_PROVIDER", cfg.LLMProvider))
	switch cfg.LLMProvider {
	case "gemini":
		cfg.LLMAPIKey = os.Getenv("GEMINI_API_KEY")
		cfg.LLMModel = "gemini-1.5-flash"
	case "openai":
		cfg.LLMAPIKey = os.Getenv("OPENAI_API_KEY")
		cfg.LLMModel = "gpt-4o-mini"
	default:
		cfg.LLMAPIKey = os.Getenv("GROQ_API_KEY")
		cfg.LLMBaseURL = "https://api.groq.com/openai/v1"
		cfg.LLMModel = "llama-3.3-70b-versatile"
	}
	cfg.LLMBaseURL = getEnvOrDefault("OPENAI_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMModel = getEnvOrDefault("LLM_MODEL", cfg.LLMModel)

	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if val, err := strconv.ParseFloat(v, 32); err == nil && val >= 0 {
			cfg.LLMTemperature = float32(val)
		}
	}
	cfg.LLMMaxTokens = getEnvIntOrDefault("LLM_MAX_TOKENS", cfg.LLMMaxTokens)
	cfg.RateLimitRetries = getEnvIntOrDefault("RATE_LIMIT_RETRIES", cfg.RateLimitRetries)
	cfg.RateLimitDefaultWait = getEnvDurationOrDefault("RATE_LIMIT_DEFAULT_WAIT", cfg.RateLimitDefaultWait)

	cfg.FeedsConfigPath = getEnvOrDefault("FEEDS_CONFIG_PATH", cfg.FeedsConfigPath)
	cfg.FeedItemLimit = getEnvIntOrDefault("FEED_ITEM_LIMIT", cfg.FeedItemLimit)
	cfg.FeedConcurrency = getEnvIntOrDefault("FEED_CONCURRENCY", cfg.FeedConcurrency)
	cfg.FeedTimeout = getEnvDurationOrDefault("FEED_TIMEOUT", cfg.FeedTimeout)
	cfg.SeenCacheTTL = getEnvDurationOrDefault("SEEN_CACHE_TTL", cfg.SeenCacheTTL)

	if v := os.Getenv("CLUSTER_THRESHOLD"); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ClusterThreshold = val
		}
	}
	cfg.HarvestInterval = getEnvDurationOrDefault("HARVEST_INTERVAL", cfg.HarvestInterval)
	cfg.DrainMinInterval = getEnvDurationOrDefault("DRAIN_MIN_INTERVAL", cfg.DrainMinInterval)
	cfg.DrainMaxInterval = getEnvDurationOrDefault("DRAIN_MAX_INTERVAL", cfg.DrainMaxInterval)
	cfg.MaxGenerationFailures = getEnvIntOrDefault("MAX_GENERATION_FAILURES", cfg.MaxGenerationFailures)
	cfg.MaxDailyGenerations = getEnvIntOrDefault("MAX_DAILY_GENERATIONS", cfg.MaxDailyGenerations)

	cfg.HTTPAddr = getEnvOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.SiteURL = getEnvOrDefault("SITE_URL", cfg.SiteURL)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	if debug := os.Getenv("DEBUG"); debug == "true" {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}

	return cfg, cfg.Validate()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault accepts Go durations ("90s", "30m") or bare seconds.
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func (c *Config) Validate() error {
	switch c.LLMProvider {
	case "groq", "openai", "gemini":
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of groq, openai, gemini")
	}
	if c.ClusterThreshold <= 0 || c.ClusterThreshold >= 1 {
		return fmt.Errorf("CLUSTER_THRESHOLD must be between 0 and 1")
	}
	if c.HarvestInterval <= 0 {
		return fmt.Errorf("HARVEST_INTERVAL must be positive")
	}
	if c.DrainMinInterval <= 0 || c.DrainMaxInterval < c.DrainMinInterval {
		return fmt.Errorf("DRAIN_MIN_INTERVAL must be positive and not above DRAIN_MAX_INTERVAL")
	}
	if c.FeedItemLimit <= 0 {
		return fmt.Errorf("FEED_ITEM_LIMIT must be positive")
	}
	if c.FeedConcurrency <= 0 {
		return fmt.Errorf("FEED_CONCURRENCY must be positive")
	}
	if c.RateLimitRetries < 0 {
		return fmt.Errorf("RATE_LIMIT_RETRIES must not be negative")
	}
	return nil
}

// RequireLLM reports a missing API key for the selected provider. Only the
// drain half needs one, so it is checked separately from Validate.
func (c *Config) RequireLLM() error {
	if c.LLMAPIKey == "" {
		switch c.LLMProvider {
		case "gemini":
			return fmt.Errorf("GEMINI_API_KEY is required")
		case "openai":
			return fmt.Errorf("OPENAI_API_KEY is required")
		default:
			return fmt.Errorf("GROQ_API_KEY is required")
		}
	}
	return nil
}

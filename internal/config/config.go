package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the pipeline
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Persistence and broker
	DatabaseURL   string
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	QueuePrefix   string

	// Scheduler configuration
	SchedulerSpec           string
	DefaultFrequencySeconds int
	DigestSchedule          string // "daily", "weekly" or "off"

	// Platforms switched off on top of the static enablement table
	DisabledPlatforms []string

	// Worker pools
	ScrapeConcurrency   int
	ScrapeRatePerMinute int
	IngestConcurrency   int
	NotifyConcurrency   int
	JobMaxAttempts      int
	JobBackoff          time.Duration

	// AI service
	AIServiceURL   string
	AITimeout      time.Duration
	AIKeywordLimit int

	// Scraper engine
	EnableDynamicFetch bool
	ScraperUserAgent   string
	FetchTimeout       time.Duration

	// Azure Storage configuration (raw batch archive)
	StorageAccount   string
	StorageContainer string

	// Notification configuration
	TeamsWebhookURL  string
	NotificationFrom string
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string

	// API Keys and credentials
	RedditUserAgent    string
	YouTubeAPIKey      string
	TwitterBearerToken string
	GoogleAPIKey       string
	YelpAPIKey         string
	NewsAPIKey         string
	StackExchangeKey   string
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Debug: getBoolEnv("DEBUG", false),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		QueuePrefix:   getEnv("QUEUE_PREFIX", "mentions"),

		SchedulerSpec:           getEnv("SCHEDULER_SPEC", "@every 1m"),
		DefaultFrequencySeconds: getIntEnv("DEFAULT_FREQUENCY_SECONDS", 3600),
		DigestSchedule:          strings.ToLower(getEnv("DIGEST_SCHEDULE", "daily")),
		DisabledPlatforms:       getSliceEnv("DISABLED_PLATFORMS", nil),

		ScrapeConcurrency:   getIntEnv("SCRAPE_CONCURRENCY", 5),
		ScrapeRatePerMinute: getIntEnv("SCRAPE_RATE_PER_MINUTE", 30),
		IngestConcurrency:   getIntEnv("INGEST_CONCURRENCY", 10),
		NotifyConcurrency:   getIntEnv("NOTIFY_CONCURRENCY", 2),
		JobMaxAttempts:      getIntEnv("JOB_MAX_ATTEMPTS", 3),
		JobBackoff:          getDurationEnv("JOB_BACKOFF", 5*time.Second),

		AIServiceURL:   getEnv("AI_SERVICE_URL", "http://localhost:8000"),
		AITimeout:      getDurationEnv("AI_TIMEOUT", 5*time.Second),
		AIKeywordLimit: getIntEnv("AI_KEYWORD_LIMIT", 5),

		EnableDynamicFetch: getBoolEnv("ENABLE_DYNAMIC_FETCH", false),
		ScraperUserAgent:   getEnv("SCRAPER_USER_AGENT", defaultUserAgent),
		FetchTimeout:       getDurationEnv("FETCH_TIMEOUT", 30*time.Second),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "mentions-raw"),

		TeamsWebhookURL:  getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationFrom: getEnv("NOTIFICATION_FROM", ""),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         getIntEnv("SMTP_PORT", 587),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),

		RedditUserAgent:    getEnv("REDDIT_USER_AGENT", "BrandMentions/1.0"),
		YouTubeAPIKey:      getEnv("YOUTUBE_API_KEY", ""),
		TwitterBearerToken: getEnv("TWITTER_BEARER_TOKEN", ""),
		GoogleAPIKey:       getEnv("GOOGLE_API_KEY", ""),
		YelpAPIKey:         getEnv("YELP_API_KEY", ""),
		NewsAPIKey:         getEnv("NEWS_API_KEY", ""),
		StackExchangeKey:   getEnv("STACKEXCHANGE_KEY", ""),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ScrapeConcurrency <= 0 || c.IngestConcurrency <= 0 || c.NotifyConcurrency <= 0 {
		return fmt.Errorf("worker concurrency values must be positive")
	}

	if c.ScrapeRatePerMinute < 0 {
		return fmt.Errorf("SCRAPE_RATE_PER_MINUTE must not be negative")
	}

	if c.JobMaxAttempts < 1 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be at least 1")
	}

	if c.AITimeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be positive")
	}

	switch c.DigestSchedule {
	case "daily", "weekly", "off":
	default:
		return fmt.Errorf("DIGEST_SCHEDULE must be 'daily', 'weekly' or 'off'")
	}

	if c.DefaultFrequencySeconds <= 0 {
		return fmt.Errorf("DEFAULT_FREQUENCY_SECONDS must be positive")
	}

	if c.SMTPHost != "" {
		if c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP_USERNAME and SMTP_PASSWORD are required when SMTP_HOST is set")
		}
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

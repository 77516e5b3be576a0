package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all cache-layer configuration
type Config struct {
	Environment string

	// Pagination
	ChatPageSize     int // chats fetched per "load more" step
	MessagesPerChat  int // window size for a head fetch
	AnalysisPageSize int // chats analyzed per briefing/summary page

	// Default TTLs in minutes, overridable per entity by the settings provider
	ChatsTTLMinutes     int
	MessagesTTLMinutes  int
	BriefingTTLMinutes  int
	SummariesTTLMinutes int

	// Short freshness window for batch message loads, independent of the
	// head-fetch TTL
	BatchFreshness time.Duration

	// Classification
	LargeGroupThreshold int

	// Background prefetch
	PrefetchEnabled  bool
	PrefetchInterval time.Duration

	// Outbound rate limiting
	SendMinInterval time.Duration

	// Persistence
	SettingsDBPath string
}

// Load loads configuration from environment variables with defaults.
// A .env file is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),

		ChatPageSize:     getIntEnv("CHAT_PAGE_SIZE", 50),
		MessagesPerChat:  getIntEnv("MESSAGES_PER_CHAT", 50),
		AnalysisPageSize: getIntEnv("ANALYSIS_PAGE_SIZE", 10),

		ChatsTTLMinutes:     getIntEnv("CHATS_TTL_MINUTES", 5),
		MessagesTTLMinutes:  getIntEnv("MESSAGES_TTL_MINUTES", 10),
		BriefingTTLMinutes:  getIntEnv("BRIEFING_TTL_MINUTES", 30),
		SummariesTTLMinutes: getIntEnv("SUMMARIES_TTL_MINUTES", 30),

		BatchFreshness: getDurationEnv("BATCH_FRESHNESS_SECONDS", 90*time.Second),

		LargeGroupThreshold: getIntEnv("LARGE_GROUP_THRESHOLD", 50),

		PrefetchEnabled:  getBoolEnv("PREFETCH_ENABLED", true),
		PrefetchInterval: getDurationEnv("PREFETCH_INTERVAL_SECONDS", 5*time.Minute),

		SendMinInterval: getDurationEnv("SEND_MIN_INTERVAL_SECONDS", 3*time.Second),

		SettingsDBPath: getEnv("SETTINGS_DB_PATH", "chattriage.db"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		secs, err := strconv.Atoi(value)
		if err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/partyhub/mention-lifecycle/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Database configuration
	DBDriver string // "mysql" or "sqlite"
	DBDSN    string

	// Webhook configuration
	AppSecret     string
	VerifyToken   string
	InboxBaseURL  string
	CronSecret    string
	ArchivePrefix string

	// Graph API configuration
	GraphAPIBaseURL string
	GraphAPITimeout time.Duration

	// Verification configuration
	VerificationOffsets   []time.Duration
	VerificationWindow    time.Duration
	MaxVerificationChecks int
	StoryLifetime         time.Duration
	SweepConcurrency      int

	// Party selection configuration
	PartySelectionTimeout time.Duration

	// Hashtag polling configuration
	HashtagLookback   time.Duration
	HashtagMediaLimit int

	// Schedules (cron with seconds)
	VerificationCron string
	ExpiryCron       string
	PartyTimeoutCron string
	HashtagCron      string

	// Azure Storage configuration
	StorageAccount   string
	StorageContainer string

	// Notification configuration
	TeamsWebhookURL   string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	NotifyMinPriority models.Priority
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	offsets, err := getOffsetsEnv("VERIFICATION_OFFSETS_MINUTES", []int{240, 480, 720, 960, 1200, 1380})
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Debug: getBoolEnv("DEBUG", false),

		DBDriver: getEnv("DB_DRIVER", "mysql"),
		DBDSN:    getEnv("DB_DSN", ""),

		AppSecret:     getEnv("META_APP_SECRET", ""),
		VerifyToken:   getEnv("META_VERIFY_TOKEN", ""),
		InboxBaseURL:  getEnv("INBOX_BASE_URL", "https://business.facebook.com/latest/inbox/all"),
		CronSecret:    getEnv("CRON_SECRET", ""),
		ArchivePrefix: getEnv("ARCHIVE_PREFIX", "instagram"),

		GraphAPIBaseURL: getEnv("GRAPH_API_BASE_URL", "https://graph.facebook.com/v21.0"),
		GraphAPITimeout: getDurationEnv("GRAPH_API_TIMEOUT", 15*time.Second),

		VerificationOffsets:   offsets,
		VerificationWindow:    getDurationEnv("VERIFICATION_WINDOW", 30*time.Minute),
		MaxVerificationChecks: getIntEnv("MAX_VERIFICATION_CHECKS", len(offsets)),
		StoryLifetime:         getDurationEnv("STORY_LIFETIME", models.StoryLifetime),
		SweepConcurrency:      getIntEnv("SWEEP_CONCURRENCY", 5),

		PartySelectionTimeout: getDurationEnv("PARTY_SELECTION_TIMEOUT", 4*time.Hour),

		HashtagLookback:   getDurationEnv("HASHTAG_LOOKBACK", 24*time.Hour),
		HashtagMediaLimit: getIntEnv("HASHTAG_MEDIA_LIMIT", 50),

		VerificationCron: getEnv("VERIFICATION_CRON", "0 */30 * * * *"),
		ExpiryCron:       getEnv("EXPIRY_CRON", "0 */30 * * * *"),
		PartyTimeoutCron: getEnv("PARTY_TIMEOUT_CRON", "0 15,45 * * * *"),
		HashtagCron:      getEnv("HASHTAG_CRON", "0 5 * * * *"),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "mentions"),

		TeamsWebhookURL:   getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		NotifyMinPriority: models.Priority(getEnv("NOTIFY_MIN_PRIORITY", string(models.PriorityMedium))),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBDriver != "mysql" && c.DBDriver != "sqlite" {
		return fmt.Errorf("DB_DRIVER must be 'mysql' or 'sqlite'")
	}

	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}

	if c.AppSecret == "" {
		return fmt.Errorf("META_APP_SECRET is required to verify webhook signatures")
	}

	if c.VerifyToken == "" {
		return fmt.Errorf("META_VERIFY_TOKEN is required for the subscription handshake")
	}

	if len(c.VerificationOffsets) == 0 {
		return fmt.Errorf("VERIFICATION_OFFSETS_MINUTES must list at least one offset")
	}
	for i, offset := range c.VerificationOffsets {
		if offset <= 0 {
			return fmt.Errorf("VERIFICATION_OFFSETS_MINUTES must be positive")
		}
		if i > 0 && offset <= c.VerificationOffsets[i-1] {
			return fmt.Errorf("VERIFICATION_OFFSETS_MINUTES must be strictly increasing")
		}
	}

	if c.MaxVerificationChecks <= 0 || c.MaxVerificationChecks > len(c.VerificationOffsets) {
		return fmt.Errorf("MAX_VERIFICATION_CHECKS must be between 1 and the number of offsets (%d)", len(c.VerificationOffsets))
	}

	if c.SweepConcurrency <= 0 {
		return fmt.Errorf("SWEEP_CONCURRENCY must be positive")
	}

	if c.HashtagMediaLimit <= 0 || c.HashtagMediaLimit > 50 {
		return fmt.Errorf("HASHTAG_MEDIA_LIMIT must be between 1 and 50")
	}

	if c.NotifyMinPriority.Rank() == 0 {
		return fmt.Errorf("NOTIFY_MIN_PRIORITY must be 'low', 'medium' or 'high'")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
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

func getOffsetsEnv(key string, defaultMinutes []int) ([]time.Duration, error) {
	minutes := defaultMinutes
	if value := os.Getenv(key); value != "" {
		minutes = nil
		for _, part := range strings.Split(value, ",") {
			parsed, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("%s: invalid offset %q", key, part)
			}
			minutes = append(minutes, parsed)
		}
	}

	offsets := make([]time.Duration, 0, len(minutes))
	for _, m := range minutes {
		offsets = append(offsets, time.Duration(m)*time.Minute)
	}
	return offsets, nil
}

package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	CalendarID   string
	DatabasePath string
	KeyPath      string
	Timezone     *time.Location

	SyncBaseURL string
	SyncToken   string

	SyncInterval        time.Duration
	MailFlushInterval   time.Duration
	FeedRefreshInterval time.Duration

	// External calendar subscription (optional).
	FeedURL      string
	FeedUsername string
	FeedPassword string
	FeedPath     string

	LogLevel string
}

func Load() (*Config, error) {
	calendarID := os.Getenv("CALENDAR_ID")
	if calendarID == "" {
		return nil, fmt.Errorf("CALENDAR_ID is required")
	}

	syncBaseURL := os.Getenv("SYNC_BASE_URL")
	if syncBaseURL == "" {
		return nil, fmt.Errorf("SYNC_BASE_URL is required")
	}

	dbPath := getEnv("DATABASE_PATH", "./data/tidecal.db")
	keyPath := getEnv("KEY_PATH", "./data/tidecal.key")

	tzName := getEnv("TIMEZONE", "UTC")
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	syncInterval, err := getEnvDuration("SYNC_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	mailInterval, err := getEnvDuration("MAIL_FLUSH_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}
	feedInterval, err := getEnvDuration("FEED_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}

	return &Config{
		CalendarID:          calendarID,
		DatabasePath:        dbPath,
		KeyPath:             keyPath,
		Timezone:            tz,
		SyncBaseURL:         syncBaseURL,
		SyncToken:           os.Getenv("SYNC_TOKEN"),
		SyncInterval:        syncInterval,
		MailFlushInterval:   mailInterval,
		FeedRefreshInterval: feedInterval,
		FeedURL:             os.Getenv("FEED_URL"),
		FeedUsername:        os.Getenv("FEED_USERNAME"),
		FeedPassword:        os.Getenv("FEED_PASSWORD"),
		FeedPath:            os.Getenv("FEED_PATH"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

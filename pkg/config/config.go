// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything read from the environment.
type Config struct {
	// TargetAPIURL is the base URL of the external service whose status
	// drives auto capture.
	TargetAPIURL string
	// StatusEndpoint is the path polled on the target API.
	StatusEndpoint string
	// StatusProperty is the JSON property carrying the running flag.
	StatusProperty string
	// ActivityProperty is the JSON property carrying the activity identifier.
	ActivityProperty string
	// PollInterval is how often the target API is polled.
	PollInterval time.Duration

	// TimelapseDir is the root directory for session frame storage.
	TimelapseDir string
	// DataDir holds the metadata database. Empty means TimelapseDir.
	DataDir string
	// Port is the HTTP listen port.
	Port string
	// FFmpegPath overrides the ffmpeg binary location. Empty uses PATH.
	FFmpegPath string
}

// Load reads configuration. A .env file in the working directory is applied
// first when present; real environment variables win over it.
func Load() (Config, error) {
	// godotenv.Load never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Config{
		TargetAPIURL:     getenv("TARGET_API_URL", "http://localhost:8080"),
		StatusEndpoint:   getenv("STATUS_ENDPOINT", "/status"),
		StatusProperty:   getenv("STATUS_PROPERTY", "is_running"),
		ActivityProperty: getenv("CURRENT_ACTIVITY_PROPERTY", "current_file"),
		TimelapseDir:     getenv("TIMELAPSE_DIR", "./timelapses"),
		DataDir:          os.Getenv("DATA_DIR"),
		Port:             getenv("PORT", "5001"),
		FFmpegPath:       os.Getenv("FFMPEG_PATH"),
	}

	seconds, err := strconv.Atoi(getenv("POLL_INTERVAL", "5"))
	if err != nil || seconds <= 0 {
		seconds = 5
	}
	cfg.PollInterval = time.Duration(seconds) * time.Second

	if cfg.DataDir == "" {
		cfg.DataDir = cfg.TimelapseDir
	}
	cfg.TargetAPIURL = strings.TrimRight(cfg.TargetAPIURL, "/")
	if !strings.HasPrefix(cfg.StatusEndpoint, "/") {
		cfg.StatusEndpoint = "/" + cfg.StatusEndpoint
	}
	return cfg, nil
}

// StatusURL returns the full URL polled for external status.
func (c Config) StatusURL() string {
	return c.TargetAPIURL + c.StatusEndpoint
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

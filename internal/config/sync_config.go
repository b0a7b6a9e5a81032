package config

import (
	"fmt"
	"os"
	"time"
)

// SyncConfig holds synchronization configuration for the field node
type SyncConfig struct {
	// ============ BASIC SETTINGS ============
	Enabled       bool
	SyncOnStartup bool

	// ============ SCHEDULING ============
	AutoSyncEnabled  bool
	AutoSyncInterval time.Duration

	// ============ RETRY / BACKOFF ============
	MaxAttempts int           // transient failures before an item is surfaced as failed
	BaseDelay   time.Duration // first backoff step
	MaxDelay    time.Duration // backoff cap

	// ============ LIMITS ============
	Concurrency    int           // simultaneous uploads for distinct entities
	WriteTimeout   time.Duration // assessment create/update
	UploadTimeout  time.Duration // photo upload
	ProbeInterval  time.Duration // connectivity health checks
	RetentionAge   time.Duration // synced entities older than this are purged
	RetentionSweep time.Duration // how often the retention sweeper runs
}

// LoadSyncConfig loads sync configuration from environment variables
func LoadSyncConfig() *SyncConfig {
	return &SyncConfig{
		Enabled:       getBoolEnv("SYNC_ENABLED", true),
		SyncOnStartup: getBoolEnv("SYNC_ON_STARTUP", true),

		AutoSyncEnabled:  getBoolEnv("SYNC_AUTO_ENABLED", true),
		AutoSyncInterval: getDurationEnv("SYNC_AUTO_INTERVAL", 5*time.Minute),

		MaxAttempts: getIntEnv("SYNC_MAX_ATTEMPTS", 5),
		BaseDelay:   getDurationEnv("SYNC_BASE_DELAY", 2*time.Second),
		MaxDelay:    getDurationEnv("SYNC_MAX_DELAY", 5*time.Minute),

		Concurrency:    getIntEnv("SYNC_CONCURRENCY", 4),
		WriteTimeout:   getDurationEnv("SYNC_WRITE_TIMEOUT", 15*time.Second),
		UploadTimeout:  getDurationEnv("SYNC_UPLOAD_TIMEOUT", 60*time.Second),
		ProbeInterval:  getDurationEnv("SYNC_PROBE_INTERVAL", 30*time.Second),
		RetentionAge:   getDurationEnv("SYNC_RETENTION_AGE", 30*24*time.Hour),
		RetentionSweep: getDurationEnv("SYNC_RETENTION_SWEEP", time.Hour),
	}
}

// Helper functions for environment variables

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

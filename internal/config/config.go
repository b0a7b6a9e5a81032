package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all field-node configuration
type Config struct {
	NodeEnv   string
	Port      string
	JWTSecret string
	Database  DatabaseConfig
	Cloud     CloudConfig
}

// DatabaseConfig holds local database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// CloudConfig holds the connection parameters for the BCA cloud API
type CloudConfig struct {
	BaseURL     string
	FallbackURL string
	APIKey      string
	ProjectID   string
	DeviceID    string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &Config{
		NodeEnv:   getEnv("NODE_ENV", "development"),
		Port:      getEnv("PORT", "3400"),
		JWTSecret: jwtSecret,
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "bca_field"),
		},
		Cloud: CloudConfig{
			BaseURL:     os.Getenv("CLOUD_API_URL"),
			FallbackURL: os.Getenv("CLOUD_API_FALLBACK_URL"),
			APIKey:      os.Getenv("CLOUD_API_KEY"),
			ProjectID:   os.Getenv("PROJECT_ID"),
			DeviceID:    getEnv("DEVICE_ID", "field-node"),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	APIBaseURL   string
	SocketURL    string
	AuthToken    string
	AdminID      string
	CacheFile    string
	PollInterval time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Load reads configuration from the environment, with an optional .env
// overlay. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	pollInterval, err := time.ParseDuration(getEnv("POLL_INTERVAL", "3s"))
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_INTERVAL: %w", err)
	}
	reconnectMin, err := time.ParseDuration(getEnv("RECONNECT_MIN", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECONNECT_MIN: %w", err)
	}
	reconnectMax, err := time.ParseDuration(getEnv("RECONNECT_MAX", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECONNECT_MAX: %w", err)
	}

	cfg := &Config{
		APIBaseURL:   getEnv("API_BASE_URL", "http://localhost:4000"),
		SocketURL:    getEnv("SOCKET_URL", "ws://localhost:4000/socket"),
		AuthToken:    os.Getenv("AUTH_TOKEN"),
		AdminID:      getEnv("ADMIN_ID", uuid.NewString()),
		CacheFile:    getEnv("CACHE_FILE", "izajadmin.db"),
		PollInterval: pollInterval,
		ReconnectMin: reconnectMin,
		ReconnectMax: reconnectMax,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.AuthToken == "" {
		return fmt.Errorf("AUTH_TOKEN is required")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be greater than 0")
	}

	if c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin {
		return fmt.Errorf("reconnect backoff range is invalid")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

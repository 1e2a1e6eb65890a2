// Package config handles application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

const defaultAssistantID = "thaya-md"

// Config represents the application configuration. Values come from the
// environment, optionally seeded from a .env file.
type Config struct {
	ServerURL   string // websocket endpoint (CONSULT_WS_URL)
	APIURL      string // REST endpoint (CONSULT_API_URL)
	AssistantID string // assistant identifier (CONSULT_ASSISTANT)
	UserID      string // conversation owner (CONSULT_USER_ID)
	UserEmail   string // REST identity header (CONSULT_USER_EMAIL)

	ReconnectDelay    time.Duration // CONSULT_RECONNECT_DELAY, default 1s
	ReconnectDelayMax time.Duration // CONSULT_RECONNECT_DELAY_MAX, default 5s
	ChunkInterval     time.Duration // CONSULT_CHUNK_INTERVAL, default 250ms
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present; variables already set
// in the environment win over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		ServerURL:   os.Getenv("CONSULT_WS_URL"),
		APIURL:      os.Getenv("CONSULT_API_URL"),
		AssistantID: getenv("CONSULT_ASSISTANT", defaultAssistantID),
		UserID:      os.Getenv("CONSULT_USER_ID"),
		UserEmail:   os.Getenv("CONSULT_USER_EMAIL"),
	}

	var err error
	if cfg.ReconnectDelay, err = getduration("CONSULT_RECONNECT_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.ReconnectDelayMax, err = getduration("CONSULT_RECONNECT_DELAY_MAX", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ChunkInterval, err = getduration("CONSULT_CHUNK_INTERVAL", 250*time.Millisecond); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return errors.New("config: CONSULT_WS_URL is required")
	}
	if c.APIURL == "" {
		return errors.New("config: CONSULT_API_URL is required")
	}
	if c.UserID == "" {
		return errors.New("config: CONSULT_USER_ID is required")
	}
	if c.ReconnectDelayMax < c.ReconnectDelay {
		return fmt.Errorf("config: reconnect delay cap %v below initial delay %v",
			c.ReconnectDelayMax, c.ReconnectDelay)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return d, nil
}

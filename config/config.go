// Package config loads the server configuration from the environment, optionally seeded from a
// .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	// Prefix is prepended to every variable name, e.g. CARPOOL_PROJECT_ID.
	Prefix = "carpool"

	BackendRTDB      = "rtdb"
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

// Config holds all configuration values for the carpool server.
type Config struct {
	// ProjectID is the Google Cloud / Firebase project. Required unless Backend is memory.
	ProjectID string `envconfig:"PROJECT_ID"`

	// Backend selects the tree store implementation: rtdb, firestore or memory.
	Backend string `envconfig:"BACKEND" default:"rtdb"`

	// DatabaseURL is the Realtime Database URL, required for the rtdb backend.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// APIKey is the Web API key used for Identity Toolkit sign-in calls.
	APIKey string `envconfig:"API_KEY"`

	// Addr is the listen address of the websocket gateway.
	Addr string `envconfig:"ADDR" default:":80"`

	// PollInterval is how often the rtdb backend checks an observed path for changes.
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`

	// PollMaxElapsed bounds how long a failing rtdb observation keeps retrying.
	PollMaxElapsed time.Duration `envconfig:"POLL_MAX_ELAPSED" default:"5m"`

	// NotifyTopic is the Pub/Sub topic leg and comment changes are published to.
	NotifyTopic string `envconfig:"NOTIFY_TOPIC" default:"carpool_leg_changes"`

	LogName      string `envconfig:"LOG_NAME" default:"carpool_info"`
	CloudLogging bool   `envconfig:"CLOUD_LOGGING" default:"true"`
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	cfg := &Config{}
	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the combinations envconfig cannot express with tags.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendRTDB:
		if c.DatabaseURL == "" {
			return fmt.Errorf("CARPOOL_DATABASE_URL is required for the %s backend", c.Backend)
		}
	case BackendFirestore:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.ProjectID == "" {
		return errors.New("CARPOOL_PROJECT_ID is required")
	}
	if c.APIKey == "" {
		return errors.New("CARPOOL_API_KEY is required")
	}
	return nil
}

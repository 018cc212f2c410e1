// Package config loads and validates the lembremed YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// RemoteURL is the base URL of the remote store (e.g. "https://api.lembremed.example").
	RemoteURL string `yaml:"remote_url"`

	// RemoteToken is the bearer token used to authenticate with the remote store.
	RemoteToken string `yaml:"remote_token"`

	// OwnerID scopes every remote query to one account's sources.
	OwnerID string `yaml:"owner_id"`

	// PollInterval controls how often the remote store is polled for source
	// changes. Minimum 10s, maximum 1h. Defaults to 30s if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ReminderHour is the local hour of day recipe expiry reminders fire at.
	// Defaults to 9 (09:00).
	ReminderHour *int `yaml:"reminder_hour,omitempty"`

	// ConfirmAfterHours is how many hours after an appointment the attendance
	// confirmation asks. Defaults to 3.
	ConfirmAfterHours *int `yaml:"confirm_after_hours,omitempty"`

	// DBPath overrides the reminder record database location.
	// Defaults to ~/.local/share/lembremed/records.db.
	DBPath string `yaml:"db_path,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "lembremed".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Hour returns the configured reminder hour, defaulting to 9.
func (c *Config) Hour() int {
	if c.ReminderHour == nil {
		return 9
	}
	return *c.ReminderHour
}

// ConfirmAfter returns the configured confirmation delay in hours, defaulting to 3.
func (c *Config) ConfirmAfter() int {
	if c.ConfirmAfterHours == nil {
		return 3
	}
	return *c.ConfirmAfterHours
}

// DefaultPath returns the default config file path: ~/.config/lembremed/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "lembremed", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.RemoteURL == "" {
		return fmt.Errorf("remote_url is required")
	}
	u, err := url.ParseRequestURI(c.RemoteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("remote_url %q must be a valid http or https URL", c.RemoteURL)
	}

	if c.RemoteToken == "" {
		return fmt.Errorf("remote_token is required")
	}

	if c.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}

	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.PollInterval < 10*time.Second {
		return fmt.Errorf("poll_interval %v is too short (minimum 10s)", c.PollInterval)
	}
	if c.PollInterval > time.Hour {
		return fmt.Errorf("poll_interval %v is too long (maximum 1h)", c.PollInterval)
	}

	if c.ReminderHour != nil && (*c.ReminderHour < 0 || *c.ReminderHour > 23) {
		return fmt.Errorf("reminder_hour %d must be between 0 and 23", *c.ReminderHour)
	}

	if c.ConfirmAfterHours != nil && *c.ConfirmAfterHours < 1 {
		return fmt.Errorf("confirm_after_hours %d must be at least 1", *c.ConfirmAfterHours)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

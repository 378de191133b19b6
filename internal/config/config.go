// Package config loads pipeline configuration from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/statlight/statlight/internal/message"
)

// Config holds pipeline configuration.
type Config struct {
	// DBPath is the SQLite database file path.
	DBPath string `yaml:"db_path"`

	// APIKey and APISecret are the upload credentials. Events cannot be
	// persisted for upload without them.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// BreadcrumbLimit caps the per-mpid breadcrumb ring buffer.
	BreadcrumbLimit int `yaml:"breadcrumb_limit"`

	// DataplanID and DataplanVersion tag every event for downstream
	// validation. Optional and opaque to the pipeline.
	DataplanID      string `yaml:"dataplan_id"`
	DataplanVersion *int   `yaml:"dataplan_version"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		DBPath:          "statlight.db",
		BreadcrumbLimit: message.DefaultBreadcrumbLimit,
	}
}

// Load reads a YAML config file, applying defaults for absent fields.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.BreadcrumbLimit <= 0 {
		return fmt.Errorf("breadcrumb_limit must be positive, got %d", c.BreadcrumbLimit)
	}
	if c.DataplanVersion != nil && *c.DataplanVersion < 1 {
		return fmt.Errorf("dataplan_version must be >= 1, got %d", *c.DataplanVersion)
	}
	return nil
}

// HasCredentials reports whether both API key and secret are configured.
func (c *Config) HasCredentials() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// Package config loads commodityd configuration from YAML with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all commodityd configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Upstream Gemini API
	Gemini GeminiConfig `yaml:"gemini"`

	// Reference data
	Data DataConfig `yaml:"data"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeout     string `yaml:"read_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// GeminiConfig configures the upstream model client.
type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`

	// Idle window for streaming responses. A stream that produces nothing
	// within this window is aborted instead of hanging the request.
	StreamIdleTimeout string `yaml:"stream_idle_timeout"`

	// Built-in tool toggles
	EnableGoogleSearch bool `yaml:"enable_google_search"`
	EnableURLContext   bool `yaml:"enable_url_context"`
}

// DataConfig configures the reference data store.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "commodityd",
		Version: "1.0.0",

		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     "30s",
			ShutdownTimeout: "10s",
		},

		Gemini: GeminiConfig{
			BaseURL:           "https://generativelanguage.googleapis.com/v1beta",
			Model:             "gemini-3-pro-preview",
			Timeout:           "10m",
			StreamIdleTimeout: "2m",
		},

		Data: DataConfig{
			Dir: "data",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides are applied either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		c.Gemini.Model = model
	}
	if url := os.Getenv("GEMINI_BASE_URL"); url != "" {
		c.Gemini.BaseURL = url
	}
	if addr := os.Getenv("COMMODITYD_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if dir := os.Getenv("COMMODITYD_DATA_DIR"); dir != "" {
		c.Data.Dir = dir
	}
}

// Validate checks that required settings are present. A missing API key is
// fatal at startup; the process must not come up half-configured.
func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini api_key not configured (set GEMINI_API_KEY)")
	}
	if c.Gemini.Model == "" {
		return fmt.Errorf("gemini model not configured")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr not configured")
	}
	return nil
}

// GetGeminiTimeout returns the upstream request timeout as a duration.
func (c *Config) GetGeminiTimeout() time.Duration {
	d, err := time.ParseDuration(c.Gemini.Timeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// GetStreamIdleTimeout returns the streaming idle window as a duration.
func (c *Config) GetStreamIdleTimeout() time.Duration {
	d, err := time.ParseDuration(c.Gemini.StreamIdleTimeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// GetReadTimeout returns the HTTP read timeout as a duration.
func (c *Config) GetReadTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ReadTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetShutdownTimeout returns the graceful shutdown window as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

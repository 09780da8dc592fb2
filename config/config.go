// Package config provides configuration loading and management for llmgate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBackendURL is used when neither the config file nor the
// environment names a completion backend.
const DefaultBackendURL = "http://localhost:8000"

// Config represents the complete llmgate configuration
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Server  ServerConfig  `yaml:"server"`
	Tracing TracingConfig `yaml:"tracing"`
	NATS    NATSConfig    `yaml:"nats"`
	Prompts PromptsConfig `yaml:"prompts"`
}

// BackendConfig configures the text-completion backend
type BackendConfig struct {
	// URL is the backend base URL; requests go to {URL}/v1/completions
	URL string `yaml:"url"`
	// Model is sent as the "model" field when set (optional)
	Model string `yaml:"model"`
	// Timeout bounds a single completion call (default: 60s)
	Timeout time.Duration `yaml:"timeout"`
	// MaxConcurrency caps in-flight backend calls. 0 means unbounded.
	MaxConcurrency int `yaml:"max_concurrency"`
}

// ServerConfig configures the gateway HTTP listener
type ServerConfig struct {
	// Addr is the listen address (default: :8080)
	Addr string `yaml:"addr"`
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TracingConfig selects the trace exporter
type TracingConfig struct {
	// Exporter is "none" or "stdout"
	Exporter string `yaml:"exporter"`
	// ServiceName is reported as the service.name resource attribute
	ServiceName string `yaml:"service_name"`
}

// NATSConfig configures optional call-record publishing
type NATSConfig struct {
	// URL is the NATS server URL (empty = publishing disabled)
	URL string `yaml:"url"`
	// SubjectPrefix is the subject prefix for call records
	SubjectPrefix string `yaml:"subject_prefix"`
	// Stream is the JetStream stream capturing call records
	Stream string `yaml:"stream"`
}

// PromptsConfig configures prompt template overrides
type PromptsConfig struct {
	// Dir holds *.tmpl overrides (empty = compiled-in defaults only)
	Dir string `yaml:"dir"`
	// Watch reloads overrides when files in Dir change
	Watch bool `yaml:"watch"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:            DefaultBackendURL,
			Timeout:        60 * time.Second,
			MaxConcurrency: 16,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "llmgate",
		},
		NATS: NATSConfig{
			URL:           "",
			SubjectPrefix: "llmgate.calls",
			Stream:        "LLMGATE_CALLS",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if !strings.HasPrefix(c.Backend.URL, "http://") && !strings.HasPrefix(c.Backend.URL, "https://") {
		return fmt.Errorf("backend.url must be an http(s) URL, got %q", c.Backend.URL)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if c.Backend.MaxConcurrency < 0 {
		return fmt.Errorf("backend.max_concurrency must not be negative")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter must be none or stdout, got %q", c.Tracing.Exporter)
	}
	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		return fmt.Errorf("nats.subject_prefix is required when nats.url is set")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Backend
	if other.Backend.URL != "" {
		c.Backend.URL = other.Backend.URL
	}
	if other.Backend.Model != "" {
		c.Backend.Model = other.Backend.Model
	}
	if other.Backend.Timeout != 0 {
		c.Backend.Timeout = other.Backend.Timeout
	}
	if other.Backend.MaxConcurrency != 0 {
		c.Backend.MaxConcurrency = other.Backend.MaxConcurrency
	}

	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}

	// Tracing
	if other.Tracing.Exporter != "" {
		c.Tracing.Exporter = other.Tracing.Exporter
	}
	if other.Tracing.ServiceName != "" {
		c.Tracing.ServiceName = other.Tracing.ServiceName
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}
	if other.NATS.Stream != "" {
		c.NATS.Stream = other.NATS.Stream
	}

	// Prompts
	if other.Prompts.Dir != "" {
		c.Prompts.Dir = other.Prompts.Dir
	}
	if other.Prompts.Watch {
		c.Prompts.Watch = true
	}
}

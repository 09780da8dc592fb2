package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

const (
	// ProjectConfigFile is the config file looked up in the working directory
	ProjectConfigFile = "llmgate.yaml"
)

// Environment variables applied on top of file configuration.
const (
	EnvBackendURL     = "LLM_BACKEND_URL"
	EnvBackendTimeout = "LLM_BACKEND_TIMEOUT"
	EnvBackendModel   = "LLM_BACKEND_MODEL"
	EnvMaxConcurrency = "LLM_MAX_CONCURRENCY"
	EnvAddr           = "LLMGATE_ADDR"
	EnvNATSURL        = "NATS_URL"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
	getenv func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, getenv: os.Getenv}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. Config file (explicit path, or llmgate.yaml in the working directory)
// 3. Environment variables
//
// File values are decoded over the defaults, so an explicit zero in the
// file (e.g. max_concurrency: 0) is honoured. An explicit path that cannot
// be read is an error; a missing project file is not.
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config file", slog.String("path", path))
		config = fileConfig
	} else if _, err := os.Stat(ProjectConfigFile); err == nil {
		fileConfig, err := LoadFromFile(ProjectConfigFile)
		if err != nil {
			l.logger.Warn("Failed to load project config", slog.String("path", ProjectConfigFile), slog.String("error", err.Error()))
		} else {
			l.logger.Debug("Loaded project config", slog.String("path", ProjectConfigFile))
			config = fileConfig
		}
	}

	if err := l.applyEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnv overlays environment variables onto config.
func (l *Loader) applyEnv(config *Config) error {
	if v := l.getenv(EnvBackendURL); v != "" {
		config.Backend.URL = v
	}
	if v := l.getenv(EnvBackendModel); v != "" {
		config.Backend.Model = v
	}
	if v := l.getenv(EnvBackendTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvBackendTimeout, err)
		}
		config.Backend.Timeout = d
	}
	if v := l.getenv(EnvMaxConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxConcurrency, err)
		}
		config.Backend.MaxConcurrency = n
	}
	if v := l.getenv(EnvAddr); v != "" {
		config.Server.Addr = v
	}
	if v := l.getenv(EnvNATSURL); v != "" {
		config.NATS.URL = v
	}
	return nil
}

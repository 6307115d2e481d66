// Package config loads FlowScribe configuration from a YAML file with
// environment-variable overrides. Missing file means defaults; a present
// but invalid file is an error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ParsingConfig tunes extraction and validation.
type ParsingConfig struct {
	Lenient        bool `yaml:"lenient"`
	RecoverPartial bool `yaml:"recover_partial"`
	ApplyDefaults  bool `yaml:"apply_defaults"`
	StrictTypes    bool `yaml:"strict_types"`
	MaxDepth       int  `yaml:"max_depth"`
}

// RetryConfig tunes the feature executor.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// BatchConfig tunes the batch scheduler.
type BatchConfig struct {
	Concurrency      int `yaml:"concurrency"`
	YieldEvery       int `yaml:"yield_every"`
	BreakerThreshold int `yaml:"breaker_threshold"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full application configuration.
type Config struct {
	Parsing ParsingConfig `yaml:"parsing"`
	Retry   RetryConfig   `yaml:"retry"`
	Batch   BatchConfig   `yaml:"batch"`
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Parsing: ParsingConfig{
			Lenient:       true,
			ApplyDefaults: true,
			MaxDepth:      32,
		},
		Retry: RetryConfig{
			MaxRetries:     2,
			AttemptTimeout: 60 * time.Second,
		},
		Batch: BatchConfig{
			Concurrency:      4,
			YieldEvery:       8,
			BreakerThreshold: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (if it exists), applies FLOWSCRIBE_* environment
// overrides, and validates the result. An empty path skips the file step.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := envInt("FLOWSCRIBE_CONCURRENCY"); ok {
		cfg.Batch.Concurrency = v
	}
	if v, ok := envInt("FLOWSCRIBE_MAX_RETRIES"); ok {
		cfg.Retry.MaxRetries = v
	}
	if v := os.Getenv("FLOWSCRIBE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FLOWSCRIBE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate rejects settings the runtime cannot honor.
func (c *Config) Validate() error {
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch.concurrency must be at least 1, got %d", c.Batch.Concurrency)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Batch.BreakerThreshold < 0 {
		return fmt.Errorf("batch.breaker_threshold must not be negative, got %d", c.Batch.BreakerThreshold)
	}
	if c.Parsing.MaxDepth < 1 {
		return fmt.Errorf("parsing.max_depth must be at least 1, got %d", c.Parsing.MaxDepth)
	}
	return nil
}

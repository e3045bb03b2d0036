// Package config handles configuration loading for siem-detect.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"siem-detect/internal/dedup"
	"siem-detect/internal/engine"
	"siem-detect/internal/logging"
	"siem-detect/internal/schema"
	s3store "siem-detect/internal/storage/s3"
)

// DefaultPath is read when SIEM_DETECT_CONFIG is unset.
const DefaultPath = "configs/config.yaml"

// Config holds the complete application configuration.
type Config struct {
	Logging    logging.Config         `yaml:"logging"`
	Engine     engine.EngineConfig    `yaml:"engine"`
	Validation schema.ValidatorConfig `yaml:"validation"`
	Dedup      DedupConfig            `yaml:"dedup"`
	Cloud      CloudConfig            `yaml:"cloud"`
	Content    ContentConfig          `yaml:"content"`
	Overrides  OverridesConfig        `yaml:"overrides"`
	Harness    HarnessConfig          `yaml:"harness"`

	// ProductionMode sanitizes rule error messages before they are logged
	// or attached to decisions.
	ProductionMode bool `yaml:"production_mode"`
}

// DedupConfig selects the dedup and threshold tracker backend.
type DedupConfig struct {
	Backend string            `yaml:"backend"` // memory or redis
	Redis   dedup.RedisConfig `yaml:"redis"`
}

// CloudConfig locates the cloud account directory.
type CloudConfig struct {
	AccountsFile string `yaml:"accounts_file"` // Built-in directory when empty
}

// ContentConfig selects which built-in rules are loaded.
type ContentConfig struct {
	Rules         []string `yaml:"rules"` // ID globs; all rules when empty
	LogTypes      []string `yaml:"log_types"`
	Severities    []string `yaml:"severities"`
	Tags          []string `yaml:"tags"`
	EnabledOnly   bool     `yaml:"enabled_only"`
	TuneGuardDuty bool     `yaml:"tune_guardduty"`
}

// OverridesConfig lists where override documents are read from. Local
// paths apply before S3 documents.
type OverridesConfig struct {
	Paths     []string       `yaml:"paths"`
	S3Enabled bool           `yaml:"s3_enabled"`
	S3        s3store.Config `yaml:"s3"`
}

// HarnessConfig configures rule test runs.
type HarnessConfig struct {
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging:    logging.DefaultConfig(),
		Engine:     engine.DefaultEngineConfig(),
		Validation: schema.DefaultValidatorConfig(),
		Dedup: DedupConfig{
			Backend: "memory",
			Redis:   dedup.DefaultRedisConfig(),
		},
		Content: ContentConfig{
			EnabledOnly: true,
		},
		Overrides: OverridesConfig{
			Paths: []string{"configs/overrides"},
			S3:    *s3store.DefaultConfig(),
		},
		Harness: HarnessConfig{
			Workers: 4,
			Timeout: 5 * time.Minute,
		},
	}
}

// Load loads configuration from SIEM_DETECT_CONFIG, or DefaultPath, and
// applies environment overrides. A missing file yields the defaults.
func Load() (*Config, error) {
	path := os.Getenv("SIEM_DETECT_CONFIG")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path and applies environment
// overrides. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("SIEM_DETECT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("SIEM_DETECT_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if prod := os.Getenv("SIEM_DETECT_PRODUCTION"); prod != "" {
		c.ProductionMode = prod == "true"
	}

	if workers := os.Getenv("SIEM_DETECT_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			c.Engine.WorkerCount = n
			c.Harness.Workers = n
		}
	}

	// Dedup settings
	if backend := os.Getenv("SIEM_DETECT_DEDUP_BACKEND"); backend != "" {
		c.Dedup.Backend = backend
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Dedup.Redis.Addr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Dedup.Redis.Password = pass
	}

	if accounts := os.Getenv("SIEM_DETECT_ACCOUNTS_FILE"); accounts != "" {
		c.Cloud.AccountsFile = accounts
	}

	// Override sources
	if paths := os.Getenv("SIEM_DETECT_OVERRIDE_PATHS"); paths != "" {
		c.Overrides.Paths = splitAndTrim(paths, ",")
	}
	if bucket := os.Getenv("SIEM_DETECT_S3_BUCKET"); bucket != "" {
		c.Overrides.S3.Bucket = bucket
		c.Overrides.S3Enabled = true
	}
	if prefix := os.Getenv("SIEM_DETECT_S3_PREFIX"); prefix != "" {
		c.Overrides.S3.Prefix = prefix
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		c.Overrides.S3.Region = region
	}
	if endpoint := os.Getenv("SIEM_DETECT_S3_ENDPOINT"); endpoint != "" {
		c.Overrides.S3.Endpoint = endpoint
		c.Overrides.S3.UsePathStyle = true
	}
}

// splitAndTrim splits s by sep and drops empty parts.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	if c.Engine.WorkerCount < 0 || c.Engine.QueueSize < 0 {
		return fmt.Errorf("engine worker_count and queue_size must not be negative")
	}

	switch c.Dedup.Backend {
	case "memory":
	case "redis":
		if c.Dedup.Redis.Addr == "" {
			return fmt.Errorf("dedup backend redis requires an address")
		}
	default:
		return fmt.Errorf("invalid dedup backend: %q", c.Dedup.Backend)
	}

	if c.Validation.MaxAge < 0 || c.Validation.MaxFuture < 0 {
		return fmt.Errorf("validation windows must not be negative")
	}

	if c.Harness.Workers <= 0 {
		return fmt.Errorf("harness workers must be positive")
	}

	if c.Overrides.S3Enabled {
		if err := c.Overrides.S3.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Package config provides unified configuration for the Tessera sync engine.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunable knobs of the sync engine.
type Config struct {
	// Endpoint is the base URL of the remote tabular service.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// DataDir is the base directory for local state (snapshot cache,
	// local staging).
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// JobTimeout bounds how long a stalled asynchronous job may go
	// without reporting progress before the wait is abandoned.
	JobTimeout time.Duration `json:"job_timeout" yaml:"job_timeout"`

	// PollInterval is the sleep between job status polls.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// RowsPerQuery is the upsert page size: how many incoming rows are
	// matched against persisted rows per generated query.
	RowsPerQuery int `json:"rows_per_query" yaml:"rows_per_query"`

	// UpdateSizeBytes is the byte ceiling for one partial-row patch batch.
	UpdateSizeBytes int64 `json:"update_size_bytes" yaml:"update_size_bytes"`

	// InsertSizeBytes is the byte ceiling for one bulk-insert batch.
	InsertSizeBytes int64 `json:"insert_size_bytes" yaml:"insert_size_bytes"`

	// WaitForConsistency makes upserts wait until eventually-consistent
	// views reflect just-applied writes.
	WaitForConsistency bool `json:"wait_for_consistency" yaml:"wait_for_consistency"`

	// ConsistencyTimeout bounds the eventual-consistency wait.
	ConsistencyTimeout time.Duration `json:"consistency_timeout" yaml:"consistency_timeout"`

	// Staging configures bulk CSV staging storage.
	Staging StagingConfig `json:"staging" yaml:"staging"`
}

// StagingConfig holds bulk-payload staging configuration.
type StagingConfig struct {
	// Type is the staging storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local staging path (for local type).
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type).
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 staging configuration.
type S3Config struct {
	// Bucket is the S3 bucket name.
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region.
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage).
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:           "http://localhost:8080",
		DataDir:            "./data/tessera",
		JobTimeout:         600 * time.Second,
		PollInterval:       time.Second,
		RowsPerQuery:       50000,
		UpdateSizeBytes:    1900 * 1024,
		InsertSizeBytes:    900 * 1024 * 1024,
		WaitForConsistency: false,
		ConsistencyTimeout: 600 * time.Second,
		Staging: StagingConfig{
			Type: "local",
			Path: "",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/tessera"
	}
	if c.Staging.Path == "" {
		c.Staging.Path = filepath.Join(c.DataDir, "staging")
	}
}

// SnapshotPath returns the path to the snapshot cache database.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "snapshots.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}

	if c.JobTimeout <= 0 {
		return fmt.Errorf("job_timeout must be positive, got %s", c.JobTimeout)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}

	if c.RowsPerQuery <= 0 {
		return fmt.Errorf("rows_per_query must be positive, got %d", c.RowsPerQuery)
	}

	if c.UpdateSizeBytes <= 0 || c.InsertSizeBytes <= 0 {
		return fmt.Errorf("update_size_bytes and insert_size_bytes must be positive")
	}

	if c.Staging.Type != "local" && c.Staging.Type != "s3" {
		return fmt.Errorf("invalid staging type: %s (must be local or s3)", c.Staging.Type)
	}

	if c.Staging.Type == "s3" && c.Staging.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when staging type is s3")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the TESSERA_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("TESSERA_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("TESSERA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("TESSERA_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.JobTimeout = d
		}
	}
	if v := os.Getenv("TESSERA_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv("TESSERA_ROWS_PER_QUERY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.RowsPerQuery)
	}
	if v := os.Getenv("TESSERA_UPDATE_SIZE_BYTES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.UpdateSizeBytes)
	}
	if v := os.Getenv("TESSERA_INSERT_SIZE_BYTES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.InsertSizeBytes)
	}
	if v := os.Getenv("TESSERA_WAIT_FOR_CONSISTENCY"); v != "" {
		cfg.WaitForConsistency = v == "true" || v == "1"
	}
	if v := os.Getenv("TESSERA_CONSISTENCY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ConsistencyTimeout = d
		}
	}

	// Staging configuration
	if v := os.Getenv("TESSERA_STAGING_TYPE"); v != "" {
		cfg.Staging.Type = v
	}
	if v := os.Getenv("TESSERA_STAGING_PATH"); v != "" {
		cfg.Staging.Path = v
	}
	if v := os.Getenv("TESSERA_S3_BUCKET"); v != "" {
		cfg.Staging.S3.Bucket = v
	}
	if v := os.Getenv("TESSERA_S3_REGION"); v != "" {
		cfg.Staging.S3.Region = v
	}
	if v := os.Getenv("TESSERA_S3_ENDPOINT"); v != "" {
		cfg.Staging.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Staging.Path}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

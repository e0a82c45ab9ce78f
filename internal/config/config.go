package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/mnemo/pkg/memory"
)

// Config represents the mnemo configuration file
type Config struct {
	// Data directory for the local store, logs and the daemon PID file
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Memory    MemoryConfig    `json:"memory" mapstructure:"memory"`
	Index     IndexConfig     `json:"index" mapstructure:"index"`
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
	Store     StoreConfig     `json:"store" mapstructure:"store"`
	Records   RecordsConfig   `json:"records" mapstructure:"records"`
	Watch     WatchConfig     `json:"watch" mapstructure:"watch"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// MemoryConfig locates the file-backed sources
type MemoryConfig struct {
	Dir  string `json:"dir" mapstructure:"dir"`   // daily logs, one *.md per day
	File string `json:"file" mapstructure:"file"` // standing MEMORY.md
}

// IndexConfig holds chunking and reindex settings
type IndexConfig struct {
	ChunkSize     int    `json:"chunk_size" mapstructure:"chunk_size"`
	ChunkOverlap  int    `json:"chunk_overlap" mapstructure:"chunk_overlap"`
	ReindexPolicy string `json:"reindex_policy" mapstructure:"reindex_policy"` // diff, legacy
	EventLimit    int    `json:"event_limit" mapstructure:"event_limit"`
}

// EmbeddingConfig holds embedding provider settings
type EmbeddingConfig struct {
	Provider          string `json:"provider" mapstructure:"provider"` // openai
	Model             string `json:"model" mapstructure:"model"`
	Dimensions        int    `json:"dimensions" mapstructure:"dimensions"` // 0 keeps the model's native size
	APIKey            string `json:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL           string `json:"base_url,omitempty" mapstructure:"base_url"`
	Timeout           int    `json:"timeout" mapstructure:"timeout"` // seconds
	MaxAttempts       int    `json:"max_attempts" mapstructure:"max_attempts"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// StoreConfig selects the vector store
type StoreConfig struct {
	Driver string `json:"driver" mapstructure:"driver"` // sqlite, postgres, memory
	Path   string `json:"path" mapstructure:"path"`     // sqlite database file
	DSN    string `json:"dsn,omitempty" mapstructure:"dsn"`
}

// RecordsConfig points at the database holding lessons, events and sops
type RecordsConfig struct {
	Driver string `json:"driver,omitempty" mapstructure:"driver"` // postgres, sqlite; empty disables record sources
	DSN    string `json:"dsn,omitempty" mapstructure:"dsn"`
}

// WatchConfig holds daemon settings
type WatchConfig struct {
	Schedule    string `json:"schedule" mapstructure:"schedule"`
	Debounce    int    `json:"debounce_ms" mapstructure:"debounce_ms"`
	InitialRun  bool   `json:"initial_run" mapstructure:"initial_run"`
	MetricsAddr string `json:"metrics_addr,omitempty" mapstructure:"metrics_addr"`
	AuditLog    string `json:"audit_log,omitempty" mapstructure:"audit_log"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			Dir:  "~/clawd/memory",
			File: "~/clawd/MEMORY.md",
		},
		Index: IndexConfig{
			ChunkSize:     1000,
			ChunkOverlap:  200,
			ReindexPolicy: string(memory.PolicyDiff),
			EventLimit:    100,
		},
		Embedding: EmbeddingConfig{
			Provider:    "openai",
			Model:       memory.DefaultEmbeddingModel,
			Timeout:     30,
			MaxAttempts: 4,
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Watch: WatchConfig{
			Schedule:   memory.DefaultSchedule,
			Debounce:   500,
			InitialRun: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config with the API key masked
func (c *Config) String() string {
	masked := *c
	if masked.Embedding.APIKey != "" {
		masked.Embedding.APIKey = "****"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Index.ChunkSize <= 0 {
		return fmt.Errorf("index.chunk_size must be positive, got %d", c.Index.ChunkSize)
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("index.chunk_overlap must be in [0, chunk_size), got %d", c.Index.ChunkOverlap)
	}
	if !memory.ReindexPolicy(c.Index.ReindexPolicy).IsValid() {
		return fmt.Errorf("invalid index.reindex_policy %q (must be: diff, legacy)", c.Index.ReindexPolicy)
	}

	if c.Embedding.Provider != "openai" {
		return fmt.Errorf("invalid embedding.provider %q (must be: openai)", c.Embedding.Provider)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions must not be negative")
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite store")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres store")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store.driver %q (must be: sqlite, postgres, memory)", c.Store.Driver)
	}

	switch c.Records.Driver {
	case "":
	case "postgres", "sqlite":
		if c.Records.DSN == "" {
			return fmt.Errorf("records.dsn is required when records.driver is set")
		}
	default:
		return fmt.Errorf("invalid records.driver %q (must be: postgres, sqlite)", c.Records.Driver)
	}

	if _, err := memory.ParseSchedule(c.Watch.Schedule); err != nil {
		return err
	}

	return nil
}

// ReindexPolicy returns the configured forced-reindex policy
func (c *Config) ReindexPolicy() memory.ReindexPolicy {
	return memory.ReindexPolicy(c.Index.ReindexPolicy)
}

// EmbedderOptions converts the embedding settings for the orchestrator
func (c *Config) EmbedderOptions() memory.EmbedderOptions {
	opts := memory.DefaultEmbedderOptions()
	if c.Embedding.Timeout > 0 {
		opts.Timeout = time.Duration(c.Embedding.Timeout) * time.Second
	}
	if c.Embedding.MaxAttempts > 0 {
		opts.MaxAttempts = c.Embedding.MaxAttempts
	}
	opts.RequestsPerMinute = c.Embedding.RequestsPerMinute
	return opts
}

// DebounceDuration returns the watcher debounce interval
func (c *Config) DebounceDuration() time.Duration {
	return time.Duration(c.Watch.Debounce) * time.Millisecond
}

// PIDFile returns the daemon PID file path
func (c *Config) PIDFile() string {
	return filepath.Join(c.DataDir, "mnemo.pid")
}

// ExpandPath replaces a leading ~ with the user's home directory
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

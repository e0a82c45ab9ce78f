package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	configDirName  = ".mnemo"
	configFileName = "mnemo.json"
	envPrefix      = "MNEMO"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// newViper binds defaults and MNEMO_* environment variables, e.g.
// MNEMO_STORE_DRIVER or MNEMO_EMBEDDING_API_KEY
func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	defaults := map[string]interface{}{
		"data_dir":                      d.DataDir,
		"memory.dir":                    d.Memory.Dir,
		"memory.file":                   d.Memory.File,
		"index.chunk_size":              d.Index.ChunkSize,
		"index.chunk_overlap":           d.Index.ChunkOverlap,
		"index.reindex_policy":          d.Index.ReindexPolicy,
		"index.event_limit":             d.Index.EventLimit,
		"embedding.provider":            d.Embedding.Provider,
		"embedding.model":               d.Embedding.Model,
		"embedding.dimensions":          d.Embedding.Dimensions,
		"embedding.api_key":             d.Embedding.APIKey,
		"embedding.base_url":            d.Embedding.BaseURL,
		"embedding.timeout":             d.Embedding.Timeout,
		"embedding.max_attempts":        d.Embedding.MaxAttempts,
		"embedding.requests_per_minute": d.Embedding.RequestsPerMinute,
		"store.driver":                  d.Store.Driver,
		"store.path":                    d.Store.Path,
		"store.dsn":                     d.Store.DSN,
		"records.driver":                d.Records.Driver,
		"records.dsn":                   d.Records.DSN,
		"watch.schedule":                d.Watch.Schedule,
		"watch.debounce_ms":             d.Watch.Debounce,
		"watch.initial_run":             d.Watch.InitialRun,
		"watch.metrics_addr":            d.Watch.MetricsAddr,
		"watch.audit_log":               d.Watch.AuditLog,
		"logging.level":                 d.Logging.Level,
		"logging.file":                  d.Logging.File,
		"logging.max_size":              d.Logging.MaxSize,
		"logging.max_age":               d.Logging.MaxAge,
		"logging.compress":              d.Logging.Compress,
		"logging.redaction":             d.Logging.Redaction,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	return v
}

// Load loads the configuration from file. A missing file yields the
// defaults with environment overrides applied.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	v := newViper(configPath)

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := resolvePaths(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolvePaths fills derived paths and expands ~
func resolvePaths(cfg *Config) error {
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join("~", configDirName)
	}

	for _, p := range []*string{&cfg.DataDir, &cfg.Memory.Dir, &cfg.Memory.File, &cfg.Store.Path, &cfg.Logging.File, &cfg.Watch.AuditLog} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "memory.db")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "mnemo.log")
	}

	return nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("data_dir", cfg.DataDir)
	v.Set("memory", cfg.Memory)
	v.Set("index", cfg.Index)
	v.Set("embedding", cfg.Embedding)
	v.Set("store", cfg.Store)
	v.Set("records", cfg.Records)
	v.Set("watch", cfg.Watch)
	v.Set("logging", cfg.Logging)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	// The file may hold an API key
	if err := os.Chmod(configPath, 0600); err != nil {
		return fmt.Errorf("failed to restrict config file permissions: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, configDirName, configFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

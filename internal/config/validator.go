package config

import (
	"fmt"
	"strings"

	"github.com/harun/mnemo/pkg/memory"
)

// Validator validates individual configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

func oneOf(value string, valid []string) bool {
	for _, v := range valid {
		if value == v {
			return true
		}
	}
	return false
}

// ValidateAPIKey validates an OpenAI API key format. An empty key is
// allowed because the credential resolver has other places to look.
func (v *Validator) ValidateAPIKey(key string) error {
	if key == "" {
		return nil
	}
	if !strings.HasPrefix(key, "sk-") {
		return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
	}
	return nil
}

// ValidateModel validates an embedding model name
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}

	knownModels := []string{
		"text-embedding-3-small",
		"text-embedding-3-large",
		"text-embedding-ada-002",
	}
	if !oneOf(model, knownModels) {
		return fmt.Errorf("unknown embedding model: %s (must be one of: %s)", model, strings.Join(knownModels, ", "))
	}
	return nil
}

// ValidateStoreDriver validates the vector store driver
func (v *Validator) ValidateStoreDriver(driver string) error {
	valid := []string{"sqlite", "postgres", "memory"}
	if !oneOf(driver, valid) {
		return fmt.Errorf("invalid store driver: %s (must be one of: %s)", driver, strings.Join(valid, ", "))
	}
	return nil
}

// ValidateRecordsDriver validates the records database driver
func (v *Validator) ValidateRecordsDriver(driver string) error {
	if driver == "" {
		return nil // record sources disabled
	}
	valid := []string{"postgres", "sqlite"}
	if !oneOf(driver, valid) {
		return fmt.Errorf("invalid records driver: %s (must be one of: %s)", driver, strings.Join(valid, ", "))
	}
	return nil
}

// ValidateChunking validates the chunk window and overlap
func (v *Validator) ValidateChunking(size, overlap int) error {
	if _, err := memory.NewChunker(size, overlap); err != nil {
		return err
	}
	return nil
}

// ValidateReindexPolicy validates the forced reindex policy
func (v *Validator) ValidateReindexPolicy(policy string) error {
	if !memory.ReindexPolicy(policy).IsValid() {
		return fmt.Errorf("invalid reindex policy: %s (must be one of: diff, legacy)", policy)
	}
	return nil
}

// ValidateSchedule validates a cron expression or descriptor
func (v *Validator) ValidateSchedule(expr string) error {
	_, err := memory.ParseSchedule(expr)
	return err
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !oneOf(level, validLevels) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateAPIKey(cfg.Embedding.APIKey); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateModel(cfg.Embedding.Model); err != nil {
		errors = append(errors, err)
	}
	if cfg.Embedding.Timeout < 0 {
		errors = append(errors, fmt.Errorf("embedding.timeout must be >= 0"))
	}
	if cfg.Embedding.MaxAttempts < 0 {
		errors = append(errors, fmt.Errorf("embedding.max_attempts must be >= 0"))
	}
	if cfg.Embedding.RequestsPerMinute < 0 {
		errors = append(errors, fmt.Errorf("embedding.requests_per_minute must be >= 0"))
	}

	if err := v.ValidateChunking(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateReindexPolicy(cfg.Index.ReindexPolicy); err != nil {
		errors = append(errors, err)
	}
	if cfg.Index.EventLimit < 0 {
		errors = append(errors, fmt.Errorf("index.event_limit must be >= 0"))
	}

	if err := v.ValidateStoreDriver(cfg.Store.Driver); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateRecordsDriver(cfg.Records.Driver); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateSchedule(cfg.Watch.Schedule); err != nil {
		errors = append(errors, err)
	}
	if cfg.Watch.Debounce < 0 {
		errors = append(errors, fmt.Errorf("watch.debounce_ms must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}

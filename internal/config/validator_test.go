package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator_Fields(t *testing.T) {
	v := NewValidator()

	t.Run("api key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey(""))
		assert.NoError(t, v.ValidateAPIKey("sk-proj-abc"))
		assert.Error(t, v.ValidateAPIKey("abc"))
	})

	t.Run("model", func(t *testing.T) {
		assert.NoError(t, v.ValidateModel("text-embedding-3-large"))
		assert.Error(t, v.ValidateModel(""))
		assert.Error(t, v.ValidateModel("gpt-4"))
	})

	t.Run("drivers", func(t *testing.T) {
		assert.NoError(t, v.ValidateStoreDriver("sqlite"))
		assert.Error(t, v.ValidateStoreDriver("redis"))
		assert.NoError(t, v.ValidateRecordsDriver(""))
		assert.NoError(t, v.ValidateRecordsDriver("sqlite"))
		assert.Error(t, v.ValidateRecordsDriver("memory"))
	})

	t.Run("chunking", func(t *testing.T) {
		assert.NoError(t, v.ValidateChunking(1000, 200))
		assert.Error(t, v.ValidateChunking(100, 100))
		assert.Error(t, v.ValidateChunking(0, 0))
	})

	t.Run("schedule", func(t *testing.T) {
		assert.NoError(t, v.ValidateSchedule("@every 6h"))
		assert.NoError(t, v.ValidateSchedule("0 */6 * * *"))
		assert.Error(t, v.ValidateSchedule("sometimes"))
	})

	t.Run("log level", func(t *testing.T) {
		assert.NoError(t, v.ValidateLogLevel("warn"))
		assert.Error(t, v.ValidateLogLevel("trace"))
	})
}

func TestValidator_ValidateConfig(t *testing.T) {
	v := NewValidator()

	assert.Empty(t, v.ValidateConfig(validConfig()))

	cfg := validConfig()
	cfg.Embedding.APIKey = "not-a-key"
	cfg.Index.ReindexPolicy = "rebuild"
	cfg.Logging.Level = "loud"
	cfg.Watch.Debounce = -1

	assert.Len(t, v.ValidateConfig(cfg), 4)
}

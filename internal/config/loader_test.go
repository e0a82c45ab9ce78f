package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := NewLoader(filepath.Join(home, "nope.json")).Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".mnemo"), cfg.DataDir)
	assert.Equal(t, filepath.Join(home, ".mnemo", "memory.db"), cfg.Store.Path)
	assert.Equal(t, filepath.Join(home, ".mnemo", "mnemo.log"), cfg.Logging.File)
	assert.Equal(t, filepath.Join(home, "clawd", "memory"), cfg.Memory.Dir)
	assert.Equal(t, filepath.Join(home, "clawd", "MEMORY.md"), cfg.Memory.File)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_ReadsFileAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("MNEMO_STORE_DRIVER", "memory")

	path := filepath.Join(home, "mnemo.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"data_dir": "/srv/mnemo",
		"index": {"chunk_size": 500, "chunk_overlap": 50, "reindex_policy": "legacy"},
		"records": {"driver": "postgres", "dsn": "postgres://localhost/clawd"}
	}`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/mnemo", cfg.DataDir)
	assert.Equal(t, 500, cfg.Index.ChunkSize)
	assert.Equal(t, 50, cfg.Index.ChunkOverlap)
	assert.Equal(t, "legacy", cfg.Index.ReindexPolicy)
	assert.Equal(t, 100, cfg.Index.EventLimit, "unset keys keep their defaults")
	assert.Equal(t, "postgres", cfg.Records.Driver)
	assert.Equal(t, "memory", cfg.Store.Driver, "environment overrides the file")
	assert.Equal(t, "/srv/mnemo/memory.db", cfg.Store.Path)
}

func TestLoader_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(home, "cfg", "mnemo.json")

	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(home, "data")
	cfg.Embedding.APIKey = "sk-test-key"
	cfg.Store.Driver = "postgres"
	cfg.Store.DSN = "postgres://localhost/mnemo"

	loader := NewLoader(path)
	require.NoError(t, loader.Save(cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test-key", loaded.Embedding.APIKey)
	assert.Equal(t, "postgres", loaded.Store.Driver)
	assert.Equal(t, "postgres://localhost/mnemo", loaded.Store.DSN)
	assert.Equal(t, cfg.DataDir, loaded.DataDir)
}

func TestLoader_GetConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, ".mnemo", "mnemo.json"), NewLoader("").GetConfigPath())
	assert.Equal(t, "/etc/mnemo.json", NewLoader("/etc/mnemo.json").GetConfigPath())
}

package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/mnemo/internal/config"
	"github.com/harun/mnemo/pkg/memory"
	"github.com/harun/mnemo/pkg/memory/memorytest"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 8

// testEnv is a config file, memory directory and sqlite store under t.TempDir
type testEnv struct {
	dir        string
	memoryDir  string
	memoryFile string
	configPath string
	provider   *memorytest.Provider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		memoryDir:  filepath.Join(dir, "memory"),
		memoryFile: filepath.Join(dir, "MEMORY.md"),
		configPath: filepath.Join(dir, "mnemo.json"),
		provider:   memorytest.NewProvider(testDim),
	}
	require.NoError(t, os.MkdirAll(env.memoryDir, 0755))

	cfg := fmt.Sprintf(`{
  "data_dir": %q,
  "memory": {"dir": %q, "file": %q},
  "embedding": {"dimensions": %d, "max_attempts": 1},
  "store": {"driver": "sqlite"},
  "logging": {"level": "error"}
}`, dir, env.memoryDir, env.memoryFile, testDim)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0600))

	orig := providerFactory
	providerFactory = func(*config.Config, string) (memory.EmbeddingProvider, error) {
		return env.provider, nil
	}
	t.Cleanup(func() { providerFactory = orig })

	return env
}

func (e *testEnv) writeDailyLog(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.memoryDir, name), []byte(content), 0644))
}

// run executes the root command against this environment
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeCLI(t, "", append([]string{"--config", e.configPath}, args...)...)
}

func executeCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	resetFlags(rootCmd)
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag to its default between executions
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		output, err := executeCLI(t, "", "--version")
		require.NoError(t, err)

		assert.Contains(t, output, "mnemo version")
		assert.Contains(t, output, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		output, err := executeCLI(t, "", "--help")
		require.NoError(t, err)

		assert.Contains(t, output, "mnemo")
		assert.Contains(t, output, "retrieves them by meaning")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		// empty keeps the configured level
		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "", logLevelFlag.DefValue)
	})

	t.Run("subcommands", func(t *testing.T) {
		names := map[string]bool{}
		for _, c := range GetRootCmd().Commands() {
			names[c.Name()] = true
		}
		for _, want := range []string{"index", "search", "recall", "stats", "start", "stop", "status", "configure"} {
			assert.True(t, names[want], "%s command should exist", want)
		}
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}

func TestLoadConfig_LogLevelOverride(t *testing.T) {
	env := newTestEnv(t)
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	cfgFile = env.configPath
	cfg, path, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, env.configPath, path)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, filepath.Join(env.dir, "memory.db"), cfg.Store.Path)

	logLevel = "debug"
	cfg, _, err = loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_InvalidIsConfigurationError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mnemo.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"store": {"driver": "redis"}}`), 0600))

	_, err := executeCLI(t, "", "--config", path, "stats")
	require.Error(t, err)
	assert.True(t, memory.IsConfiguration(err))
	assert.Contains(t, err.Error(), "store.driver")
}

package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Errorf("restoring working directory: %v", err)
		}
	})
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FANOUT_BACKEND", "FANOUT_WORKERS", "FANOUT_WORKERS_ENV_VAR",
		"FANOUT_OUT_FILE", "FANOUT_LOG_LEVEL", "FANOUT_LOG_FORMAT",
		"FANOUT_LOG_TIMESTAMPS",
	} {
		t.Setenv(key, "")
	}
}

func load(t *testing.T, args ...string) *Config {
	t.Helper()
	fs := flag.NewFlagSet("fanout", flag.ContinueOnError)
	cfg, err := Load(fs, args)
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	cfg := load(t)
	assert.Empty(t, cfg.Backend)
	assert.Zero(t, cfg.Workers)
	assert.Equal(t, DefaultWorkersEnvVar, cfg.WorkersEnvVar)
	assert.Equal(t, DefaultOutTemplate, cfg.OutTemplate)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.False(t, cfg.LogTimestamps)
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fanout.toml"), []byte(`
backend = "threads"
workers = 6
log_level = "debug"
out_template = "result: %s\n"
`), 0o644))
	chdir(t, dir)

	cfg := load(t)
	assert.Equal(t, "threads", cfg.Backend)
	assert.Equal(t, 6, cfg.Workers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "result: %s\n", cfg.OutTemplate)
}

func TestLoadHiddenFileFallback(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".fanout.toml"), []byte(`backend = "processes"`), 0o644))
	chdir(t, dir)

	cfg := load(t)
	assert.Equal(t, "processes", cfg.Backend)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fanout.toml"), []byte(`
backend = "threads"
workers = 6
`), 0o644))
	chdir(t, dir)
	t.Setenv("FANOUT_BACKEND", "sequential")
	t.Setenv("FANOUT_WORKERS", "2")
	t.Setenv("FANOUT_LOG_TIMESTAMPS", "yes")

	cfg := load(t)
	assert.Equal(t, "sequential", cfg.Backend)
	assert.Equal(t, 2, cfg.Workers)
	assert.True(t, cfg.LogTimestamps)
}

func TestFlagsOverrideEverything(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fanout.toml"), []byte(`backend = "threads"`), 0o644))
	chdir(t, dir)
	t.Setenv("FANOUT_BACKEND", "processes")

	cfg := load(t, "-backend", "sequential", "-workers", "3", "-tasks", "jobs.json")
	assert.Equal(t, "sequential", cfg.Backend)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "jobs.json", cfg.TaskFile)
}

func TestMalformedEnvWorkersIgnored(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv("FANOUT_WORKERS", "many")

	cfg := load(t)
	assert.Zero(t, cfg.Workers)
}

func TestBrokenConfigFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fanout.toml"), []byte(`backend = [not toml`), 0o644))
	chdir(t, dir)

	fs := flag.NewFlagSet("fanout", flag.ContinueOnError)
	_, err := Load(fs, nil)
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	withCleanEnv(t)
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 65536, cfg.RingCapacity)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 4096, cfg.ScratchBufferSize)
	assert.Equal(t, 1024, cfg.MaxFDs)
	assert.Equal(t, 16, cfg.ListenBacklog)
	assert.Equal(t, "bash", cfg.Shell)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	withCleanEnv(t)
	dir := chdirTemp(t)

	yamlBody := "ring_capacity: 131072\nport: 9090\nshell: zsh\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "termc.yaml"), []byte(yamlBody), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 131072, cfg.RingCapacity)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "zsh", cfg.Shell)
	// Untouched fields keep their defaults.
	assert.Equal(t, 4096, cfg.ScratchBufferSize)
}

func TestLoad_EnvOverridesYAMLAndDefaults(t *testing.T) {
	withCleanEnv(t)
	dir := chdirTemp(t)

	yamlBody := "shell: zsh\nlog_level: error\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "termc.yaml"), []byte(yamlBody), 0o644))

	t.Setenv(EnvShell, "fish")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "fish", cfg.Shell)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_ConfigPathEnvVar(t *testing.T) {
	withCleanEnv(t)
	dir := chdirTemp(t)

	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 1234\n"), 0o644))
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Port)
}

func TestLoad_InvalidYAML(t *testing.T) {
	withCleanEnv(t)
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "termc.yaml"), []byte("port: [not a number\n"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(*Config) {}, false},
		{"ring capacity too small", func(c *Config) { c.RingCapacity = 1 }, true},
		{"port zero", func(c *Config) { c.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Port = 70000 }, true},
		{"scratch buffer zero", func(c *Config) { c.ScratchBufferSize = 0 }, true},
		{"max fds zero", func(c *Config) { c.MaxFDs = 0 }, true},
		{"empty shell", func(c *Config) { c.Shell = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				RingCapacity:      65536,
				Port:              8080,
				ScratchBufferSize: 4096,
				MaxFDs:            1024,
				ListenBacklog:     16,
				Shell:             "bash",
				LogLevel:          "warn",
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func withCleanEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvConfigPath, "")
	t.Setenv(EnvShell, "")
	t.Setenv(EnvLogLevel, "")
}

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
	return dir
}

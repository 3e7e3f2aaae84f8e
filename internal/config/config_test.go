package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "almalinux:9", cfg.Image)
	assert.Equal(t, "task-", cfg.ContainerPrefix)
	assert.Equal(t, 10*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, []string{"/bin/bash", "-l"}, cfg.Shell)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "examlab.yaml")
	doc := `
listen: ":8080"
image: rockylinux:9
probe_timeout: 3s
shell: ["/bin/sh"]
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "rockylinux:9", cfg.Image)
	assert.Equal(t, 3*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, []string{"/bin/sh"}, cfg.Shell)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	// untouched keys keep their defaults
	assert.Equal(t, "task-", cfg.ContainerPrefix)
	assert.Equal(t, 10*time.Second, cfg.StopTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"EXAMLAB_LISTEN":        ":9000",
		"EXAMLAB_SHELL":         "/bin/zsh -i",
		"EXAMLAB_PROBE_TIMEOUT": "250ms",
		"EXAMLAB_LOG_LEVEL":     "warn",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, []string{"/bin/zsh", "-i"}, cfg.Shell)
	assert.Equal(t, 250*time.Millisecond, cfg.ProbeTimeout)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestApplyEnvBadDuration(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "EXAMLAB_STOP_TIMEOUT" {
			return "soon", true
		}
		return "", false
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXAMLAB_STOP_TIMEOUT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"listen", func(c *Config) { c.Listen = "" }, "listen"},
		{"image", func(c *Config) { c.Image = "" }, "image"},
		{"prefix", func(c *Config) { c.ContainerPrefix = "" }, "container_prefix"},
		{"shell", func(c *Config) { c.Shell = nil }, "shell"},
		{"probe", func(c *Config) { c.ProbeTimeout = 0 }, "probe_timeout"},
		{"teardown", func(c *Config) { c.TeardownTimeout = 0 }, "teardown_timeout"},
		{"format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// Package config loads examlab server settings from YAML, the environment
// and command-line overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EXAMLAB_"

type Config struct {
	Listen            string        `yaml:"listen"`
	Image             string        `yaml:"image"`
	ContainerPrefix   string        `yaml:"container_prefix"`
	Shell             []string      `yaml:"shell"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	StopTimeout       time.Duration `yaml:"stop_timeout"`
	TeardownTimeout   time.Duration `yaml:"teardown_timeout"`
	ReconcileSchedule string        `yaml:"reconcile_schedule"`
	DockerHost        string        `yaml:"docker_host"`
	StaticDir         string        `yaml:"static_dir"`
	CatalogFile       string        `yaml:"catalog_file"`
	CheckersFile      string        `yaml:"checkers_file"`
	Log               Log           `yaml:"log"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:            ":5000",
		Image:             "almalinux:9",
		ContainerPrefix:   "task-",
		Shell:             []string{"/bin/bash", "-l"},
		ProbeTimeout:      10 * time.Second,
		StopTimeout:       10 * time.Second,
		TeardownTimeout:   5 * time.Second,
		ReconcileSchedule: "@every 30s",
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("LISTEN", &c.Listen)
	str("IMAGE", &c.Image)
	str("CONTAINER_PREFIX", &c.ContainerPrefix)
	str("RECONCILE_SCHEDULE", &c.ReconcileSchedule)
	str("DOCKER_HOST", &c.DockerHost)
	str("STATIC_DIR", &c.StaticDir)
	str("CATALOG_FILE", &c.CatalogFile)
	str("CHECKERS_FILE", &c.CheckersFile)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup(EnvPrefix + "SHELL"); ok && v != "" {
		c.Shell = strings.Fields(v)
	}

	for key, dst := range map[string]*time.Duration{
		"PROBE_TIMEOUT":    &c.ProbeTimeout,
		"STOP_TIMEOUT":     &c.StopTimeout,
		"TEARDOWN_TIMEOUT": &c.TeardownTimeout,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Image == "" {
		return fmt.Errorf("image is required")
	}
	if c.ContainerPrefix == "" {
		return fmt.Errorf("container_prefix is required")
	}
	if len(c.Shell) == 0 {
		return fmt.Errorf("shell command is required")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive")
	}
	if c.StopTimeout < 0 {
		return fmt.Errorf("stop_timeout must not be negative")
	}
	if c.TeardownTimeout <= 0 {
		return fmt.Errorf("teardown_timeout must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

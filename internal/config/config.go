// Package config handles configuration loading and management for Atelier.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Atelier.
type Config struct {
	Lease     LeaseConfig     `mapstructure:"lease"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Assign    AssignConfig    `mapstructure:"assign"`
}

// LeaseConfig holds lease and reclamation settings.
type LeaseConfig struct {
	// TTL is how long a lease lasts without a renewal heartbeat.
	TTL time.Duration `mapstructure:"ttl"`
	// ReconcileInterval is how often expired leases are swept.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// WorkspaceConfig holds workspace provisioning and retention settings.
type WorkspaceConfig struct {
	// BaseDir is where per-task checkouts are created. Empty means
	// <repo>/.atelier/worktrees.
	BaseDir string `mapstructure:"base_dir"`
	// Retention is how long a done task's checkout is kept before the
	// retention sweep reclaims it.
	Retention time.Duration `mapstructure:"retention"`
	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// TeardownRetries is how many extra attempts teardown makes.
	TeardownRetries int `mapstructure:"teardown_retries"`
	// TeardownBackoff is the base delay between teardown attempts.
	TeardownBackoff time.Duration `mapstructure:"teardown_backoff"`
}

// AssignConfig holds assignment behavior settings.
type AssignConfig struct {
	// RetryAfter is the delay hinted to workers when no task is ready.
	RetryAfter time.Duration `mapstructure:"retry_after"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ATELIER_*)
// 2. Project config (.atelier.yaml in current directory or parent)
// 3. User config (~/.config/atelier/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("ATELIER")
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Lease defaults
	v.SetDefault("lease.ttl", "30m")
	v.SetDefault("lease.reconcile_interval", "1m")

	// Workspace defaults
	v.SetDefault("workspace.base_dir", "")
	v.SetDefault("workspace.retention", "72h")
	v.SetDefault("workspace.sweep_interval", "15m")
	v.SetDefault("workspace.teardown_retries", 3)
	v.SetDefault("workspace.teardown_backoff", "500ms")

	// Assignment defaults
	v.SetDefault("assign.retry_after", "15s")
}

// getUserConfigDir returns the XDG config directory for Atelier.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "atelier")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "atelier")
	}
	return filepath.Join(home, ".config", "atelier")
}

// findProjectConfig searches for .atelier.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".atelier.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Lease: LeaseConfig{
			TTL:               30 * time.Minute,
			ReconcileInterval: time.Minute,
		},
		Workspace: WorkspaceConfig{
			Retention:       72 * time.Hour,
			SweepInterval:   15 * time.Minute,
			TeardownRetries: 3,
			TeardownBackoff: 500 * time.Millisecond,
		},
		Assign: AssignConfig{
			RetryAfter: 15 * time.Second,
		},
	}
}

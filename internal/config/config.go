// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads the application settings from dbcopier.yaml,
// DBCOPIER_* environment variables and command-line flags.
package config // import "github.com/toeirei/dbcopier/internal/config"

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the application configuration. Job definitions are not part of
// it; they live in the store or in job files.
type Config struct {
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Copy    CopyConfig    `mapstructure:"copy" yaml:"copy"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// StoreConfig selects the backend for saved configurations and tasks.
type StoreConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

// CopyConfig tunes the copy engine.
type CopyConfig struct {
	Workers    int   `mapstructure:"workers" yaml:"workers"`
	BatchRows  int   `mapstructure:"batch_rows" yaml:"batch_rows"`
	BatchBytes int64 `mapstructure:"batch_bytes" yaml:"batch_bytes"`
	Attempts   int   `mapstructure:"attempts" yaml:"attempts"`
}

// MonitorConfig tunes the memory gauge.
type MonitorConfig struct {
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	ThresholdMB int64         `mapstructure:"threshold_mb" yaml:"threshold_mb"`
}

// LogConfig sets the log level ("debug", "info", "warn", "error").
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Defaults returns the built-in settings keyed the way viper sees them.
func Defaults() map[string]any {
	return map[string]any{
		"store.type":           "sqlite",
		"store.dsn":            "./dbcopier.db",
		"copy.workers":         4,
		"copy.batch_rows":      1000,
		"copy.batch_bytes":     16 << 20,
		"copy.attempts":        3,
		"monitor.interval":     "5s",
		"monitor.threshold_mb": 512,
		"log.level":            "info",
	}
}

// GetConfigPath returns the full path for the configuration file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "dbcopier")
		default: // Linux, macOS, etc.
			configDir = "/etc/dbcopier"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "dbcopier")
	}

	return filepath.Join(configDir, "dbcopier.yaml"), nil
}

// LoadConfig merges defaults, the first dbcopier.yaml found (explicit path,
// user dir, system dir, working dir), DBCOPIER_* environment variables and
// the flags of cmd, in increasing precedence.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, additionalConfigFilePath *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("dbcopier")
	v.SetConfigType("yaml")

	// An explicit --config path wins over the search paths.
	if additionalConfigFilePath != nil {
		v.SetConfigFile(*additionalConfigFilePath)
	}

	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; anything else is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	v.SetEnvPrefix("dbcopier")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, nil
}

// WriteConfigFile writes c to the user (or system) configuration path.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}
	return WriteConfigFileTo(c, path)
}

// WriteConfigFileTo writes c as YAML to path, creating its directory.
func WriteConfigFileTo[T any](c *T, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// 0600: the store DSN may carry credentials.
	return os.WriteFile(path, data, 0o600)
}

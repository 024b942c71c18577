// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads mcphost configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Error describes a configuration failure at a specific key.
type Error struct {
	Key    string
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Key, e.Reason, e.Cause)
	}
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Config represents the complete mcphost configuration.
type Config struct {
	// RootPath is the vault root substituted for ${VAULT_PATH}.
	// Environment: MCPHOST_ROOT_PATH
	RootPath string `yaml:"root_path,omitempty"`

	// BundlePath is the directory holding bundled server binaries,
	// substituted for ${BUNDLE_PATH}.
	// Environment: MCPHOST_BUNDLE_PATH
	BundlePath string `yaml:"bundle_path,omitempty"`

	// SettingsDB is the sqlite file backing the settings blob.
	// Environment: MCPHOST_SETTINGS_DB
	// Default: <config dir>/settings.db
	SettingsDB string `yaml:"settings_db,omitempty"`

	Log        LogConfig        `yaml:"log"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Watch      WatchConfig      `yaml:"watch"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SupervisorConfig holds the connection supervisor timings.
type SupervisorConfig struct {
	// RequestTimeout bounds every JSON-RPC call made through a session.
	// Environment: MCPHOST_REQUEST_TIMEOUT
	// Default: 30s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// StatusCheckDelay is the wait before the one-shot status re-check
	// after a start call.
	// Default: 2s
	StatusCheckDelay time.Duration `yaml:"status_check_delay"`

	// StopSettleDelay is the pause after force-stopping a stale process.
	// Default: 100ms
	StopSettleDelay time.Duration `yaml:"stop_settle_delay"`

	// ReconnectSettleDelay is the pause between tearing down and
	// reconnecting during a forced restart.
	// Default: 2s
	ReconnectSettleDelay time.Duration `yaml:"reconnect_settle_delay"`

	// HandshakeTimeout bounds the initialize handshake performed by the
	// local host.
	// Default: 10s
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// WatchConfig configures the bundle source watcher.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
	// Ignore holds doublestar globs of paths that never trigger a restart.
	Ignore []string `yaml:"ignore,omitempty"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Supervisor: SupervisorConfig{
			RequestTimeout:       30 * time.Second,
			StatusCheckDelay:     2 * time.Second,
			StopSettleDelay:      100 * time.Millisecond,
			ReconnectSettleDelay: 2 * time.Second,
			HandshakeTimeout:     10 * time.Second,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
			Ignore:   []string{"**/.git/**", "**/__pycache__/**", "**/*.swp"},
		},
	}
}

// Load reads configuration from configPath, applies defaults and environment
// overrides, then validates the result. A missing file yields defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, &Error{
					Key:    "config_file",
					Reason: fmt.Sprintf("failed to load from %s", configPath),
					Cause:  err,
				}
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &Error{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	s := &c.Supervisor
	if s.RequestTimeout == 0 {
		s.RequestTimeout = defaults.Supervisor.RequestTimeout
	}
	if s.StatusCheckDelay == 0 {
		s.StatusCheckDelay = defaults.Supervisor.StatusCheckDelay
	}
	if s.StopSettleDelay == 0 {
		s.StopSettleDelay = defaults.Supervisor.StopSettleDelay
	}
	if s.ReconnectSettleDelay == 0 {
		s.ReconnectSettleDelay = defaults.Supervisor.ReconnectSettleDelay
	}
	if s.HandshakeTimeout == 0 {
		s.HandshakeTimeout = defaults.Supervisor.HandshakeTimeout
	}

	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = defaults.Watch.Debounce
	}
	if c.Watch.Ignore == nil {
		c.Watch.Ignore = defaults.Watch.Ignore
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("MCPHOST_ROOT_PATH"); val != "" {
		c.RootPath = val
	}
	if val := os.Getenv("MCPHOST_BUNDLE_PATH"); val != "" {
		c.BundlePath = val
	}
	if val := os.Getenv("MCPHOST_SETTINGS_DB"); val != "" {
		c.SettingsDB = val
	}
	if val := os.Getenv("MCPHOST_REQUEST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Supervisor.RequestTimeout = d
		}
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []string

	durations := []struct {
		key string
		val time.Duration
	}{
		{"supervisor.request_timeout", c.Supervisor.RequestTimeout},
		{"supervisor.status_check_delay", c.Supervisor.StatusCheckDelay},
		{"supervisor.stop_settle_delay", c.Supervisor.StopSettleDelay},
		{"supervisor.reconnect_settle_delay", c.Supervisor.ReconnectSettleDelay},
		{"supervisor.handshake_timeout", c.Supervisor.HandshakeTimeout},
		{"watch.debounce", c.Watch.Debounce},
	}
	for _, d := range durations {
		if d.val < 0 {
			errs = append(errs, fmt.Sprintf("%s must not be negative, got %v", d.key, d.val))
		}
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// ResolveSettingsDB returns the configured settings database path or the
// default location under the config directory.
func (c *Config) ResolveSettingsDB() (string, error) {
	if c.SettingsDB != "" {
		return expandHome(c.SettingsDB)
	}
	return DefaultSettingsDB()
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

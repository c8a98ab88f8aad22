// Package config handles garden configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (GARDEN_*)
//  2. A .env file in the working directory (development convenience)
//  3. Config file (<user config dir>/garden/config.yaml)
//  4. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mindgarden-dev/garden/internal/paths"
)

const (
	// DefaultAPIURL is the default MindGarden API endpoint.
	DefaultAPIURL = "http://localhost:8080"
	// DefaultLiveURL is the default live status channel endpoint.
	DefaultLiveURL = "ws://localhost:8000/ws/process-monitor"
	// DefaultConnectTimeout bounds the live channel handshake.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultMaxUpdates is how many process updates the live snapshot retains.
	DefaultMaxUpdates = 500
	// DefaultRequestTimeout bounds each API request.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultRecordingRetention is the prune window for live recordings.
	DefaultRecordingRetention = 30 * 24 * time.Hour
)

// Config holds the garden configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from all sources.
func Load() *Config {
	// Values from .env never override variables already set in the environment.
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("api.url", DefaultAPIURL)
	v.SetDefault("live.url", DefaultLiveURL)
	v.SetDefault("live.connect_timeout", DefaultConnectTimeout)
	v.SetDefault("live.max_updates", DefaultMaxUpdates)
	v.SetDefault("http.timeout", DefaultRequestTimeout)
	v.SetDefault("recording.enabled", false)
	v.SetDefault("recording.retention", DefaultRecordingRetention)

	if configDir, err := paths.ConfigRoot(); err == nil {
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("GARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, but warn on other errors)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v\n", err)
		}
	}

	return &Config{v: v}
}

// Get returns a configuration value.
func (c *Config) Get(key string) interface{} {
	return c.v.Get(key)
}

// GetString returns a configuration value as string.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns a configuration value as int.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetDuration returns a configuration value as a duration.
func (c *Config) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}

// Set sets a configuration value and persists it.
func (c *Config) Set(key string, value interface{}) error {
	c.v.Set(key, value)

	configFile, err := paths.ConfigFile()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return err
	}

	return c.v.WriteConfigAs(configFile)
}

// All returns all configuration as a map.
func (c *Config) All() map[string]interface{} {
	return c.v.AllSettings()
}

// APIURL returns the configured API URL without a trailing slash.
func (c *Config) APIURL() string {
	return strings.TrimRight(c.GetString("api.url"), "/")
}

// LiveURL returns the live status channel endpoint.
func (c *Config) LiveURL() string {
	return c.GetString("live.url")
}

// ConnectTimeout returns the live channel handshake timeout.
func (c *Config) ConnectTimeout() time.Duration {
	if d := c.GetDuration("live.connect_timeout"); d > 0 {
		return d
	}

	return DefaultConnectTimeout
}

// MaxUpdates returns the retention bound of the process update log.
func (c *Config) MaxUpdates() int {
	if n := c.GetInt("live.max_updates"); n > 0 {
		return n
	}

	return DefaultMaxUpdates
}

// RequestTimeout returns the per-request API timeout.
func (c *Config) RequestTimeout() time.Duration {
	if d := c.GetDuration("http.timeout"); d > 0 {
		return d
	}

	return DefaultRequestTimeout
}

// RecordingEnabled reports whether `garden monitor` records by default.
func (c *Config) RecordingEnabled() bool {
	return c.v.GetBool("recording.enabled")
}

// RecordingRetention returns how long `garden history prune` keeps recordings.
func (c *Config) RecordingRetention() time.Duration {
	if d := c.GetDuration("recording.retention"); d > 0 {
		return d
	}

	return DefaultRecordingRetention
}

// Keys returns every known key, defaults included, in sorted order.
func (c *Config) Keys() []string {
	keys := c.v.AllKeys()
	sort.Strings(keys)

	return keys
}

// Setting documents one built-in configuration key.
type Setting struct {
	Key         string
	Description string
}

// Settings lists the keys garden reads, in display order.
func Settings() []Setting {
	return []Setting{
		{Key: "api.url", Description: "MindGarden API base URL"},
		{Key: "live.url", Description: "Live status channel endpoint"},
		{Key: "live.connect_timeout", Description: "Live channel handshake timeout"},
		{Key: "live.max_updates", Description: "Process updates kept in the live snapshot"},
		{Key: "http.timeout", Description: "Per-request API timeout"},
		{Key: "recording.enabled", Description: "Record every monitor session"},
		{Key: "recording.retention", Description: "How long history prune keeps recordings"},
	}
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SubscriptionConfig describes a single remote ICS calendar.
type SubscriptionConfig struct {
	// ID tags every event imported from this source. Must be positive and
	// unique.
	ID int64 `yaml:"id" json:"id"`
	// Name is a human-friendly label used in logs.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS endpoint. webcal:// is accepted and fetched over https.
	URL string `yaml:"url" json:"url"`
	// Disabled skips the source during sync.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for date-only values, floating times,
	// recurrence stepping and notification text (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is the cron schedule for subscription sync.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// DatabaseDSN selects the PostgreSQL store. Empty keeps everything in
	// memory.
	DatabaseDSN string `yaml:"database_dsn,omitempty" json:"-"`

	// CacheDir holds downloaded subscription bodies and their validators.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Subscriptions []SubscriptionConfig `yaml:"subscriptions" json:"subscriptions"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen   = "127.0.0.1:8080"
	defaultTimezone = "Asia/Seoul"
	defaultLogLevel = "info"
	defaultRefresh  = "0 * * * *"
	defaultCacheDir = "cache"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        defaultListen,
		Timezone:      defaultTimezone,
		LogLevel:      defaultLogLevel,
		RefreshCron:   defaultRefresh,
		CacheDir:      defaultCacheDir,
		Subscriptions: []SubscriptionConfig{},
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	// Hourly, like the Android sync service.
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.Subscriptions == nil {
		c.Subscriptions = []SubscriptionConfig{}
	}
}

// Validate reports configuration that cannot be used as-is.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	seen := make(map[int64]bool, len(c.Subscriptions))
	for i, s := range c.Subscriptions {
		switch {
		case s.ID <= 0:
			return fmt.Errorf("subscriptions[%d]: id must be positive", i)
		case seen[s.ID]:
			return fmt.Errorf("subscriptions[%d]: duplicate id %d", i, s.ID)
		case s.URL == "":
			return fmt.Errorf("subscriptions[%d]: url is empty", i)
		}
		seen[s.ID] = true
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local when the zone is
// unknown on this host.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ActiveSubscriptions returns the subscriptions that are not disabled.
func (c *Config) ActiveSubscriptions() []SubscriptionConfig {
	out := make([]SubscriptionConfig, 0, len(c.Subscriptions))
	for _, s := range c.Subscriptions {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is read, unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".remindcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

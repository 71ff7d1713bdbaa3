// Package config loads runtime configuration from a JSON file. Every knob
// has a default; a missing file is only an error when a path was explicitly
// given.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"
)

// StoreConfig selects and parameterizes the persistence backend.
type StoreConfig struct {
	// Backend is one of "sqlite", "postgres", "memory".
	Backend string `json:"backend"`
	// Path is the sqlite database file. Ignored by other backends.
	Path string `json:"path"`
	// DSN is the postgres connection string. Ignored by other backends.
	DSN string `json:"dsn"`
}

// FetchSettings tunes the page fetcher.
type FetchSettings struct {
	TimeoutSeconds int      `json:"timeout_seconds"`
	MaxRedirects   int      `json:"max_redirects"`
	UseCookieJar   bool     `json:"use_cookie_jar"`
	Fingerprint    string   `json:"fingerprint"`
	ProxyFile      string   `json:"proxy_file"`
	UserAgents     []string `json:"user_agents"`
	RespectRobots  bool     `json:"respect_robots"`
}

// PacingSettings tunes the delays and polling of the scrape loop.
type PacingSettings struct {
	SettleDelayMs      int `json:"settle_delay_ms"`
	MinPageDelayMs     int `json:"min_page_delay_ms"`
	MaxPageDelayMs     int `json:"max_page_delay_ms"`
	PollAttempts       int `json:"poll_attempts"`
	PollBackoffMs      int `json:"poll_backoff_ms"`
	EmptyPageThreshold int `json:"empty_page_threshold"`
}

// Config is the full runtime configuration.
type Config struct {
	ListingURL    string         `json:"listing_url"`
	SessionFile   string         `json:"session_file"`
	SelectorsFile string         `json:"selectors_file"`
	ExportDir     string         `json:"export_dir"`
	MetricsPort   int            `json:"metrics_port"`
	LogLevel      string         `json:"log_level"`
	Store         StoreConfig    `json:"store"`
	Fetch         FetchSettings  `json:"fetch"`
	Pacing        PacingSettings `json:"pacing"`
}

// Load reads the configuration at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SessionFile == "" {
		c.SessionFile = "magpie-session.json"
	}
	if c.ExportDir == "" {
		c.ExportDir = "."
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	if c.Store.Path == "" {
		c.Store.Path = "magpie.db"
	}
	if c.Fetch.TimeoutSeconds == 0 {
		c.Fetch.TimeoutSeconds = 30
	}
	if c.Fetch.MaxRedirects == 0 {
		c.Fetch.MaxRedirects = 10
	}
	if c.Fetch.Fingerprint == "" {
		c.Fetch.Fingerprint = "chrome"
	}
	if c.Pacing.SettleDelayMs == 0 {
		c.Pacing.SettleDelayMs = 2000
	}
	if c.Pacing.MinPageDelayMs == 0 {
		c.Pacing.MinPageDelayMs = 500
	}
	if c.Pacing.MaxPageDelayMs == 0 {
		c.Pacing.MaxPageDelayMs = 1500
	}
	if c.Pacing.PollAttempts == 0 {
		c.Pacing.PollAttempts = 10
	}
	if c.Pacing.PollBackoffMs == 0 {
		c.Pacing.PollBackoffMs = 500
	}
	if c.Pacing.EmptyPageThreshold == 0 {
		c.Pacing.EmptyPageThreshold = 3
	}
}

func (c *Config) validate() error {
	if c.ListingURL != "" {
		u, err := url.Parse(c.ListingURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("listing_url %q is not an absolute url", c.ListingURL)
		}
	}

	switch c.Store.Backend {
	case "sqlite", "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Fetch.Fingerprint {
	case "chrome", "firefox", "safari", "go", "random":
	default:
		return fmt.Errorf("unknown fingerprint profile %q", c.Fetch.Fingerprint)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	if c.Pacing.MinPageDelayMs > c.Pacing.MaxPageDelayMs {
		return errors.New("pacing.min_page_delay_ms exceeds max_page_delay_ms")
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port %d out of range", c.MetricsPort)
	}

	return nil
}

// SettleDelay returns the pacing settle delay as a duration.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Pacing.SettleDelayMs) * time.Millisecond
}

// MinPageDelay returns the lower page delay bound.
func (c *Config) MinPageDelay() time.Duration {
	return time.Duration(c.Pacing.MinPageDelayMs) * time.Millisecond
}

// MaxPageDelay returns the upper page delay bound.
func (c *Config) MaxPageDelay() time.Duration {
	return time.Duration(c.Pacing.MaxPageDelayMs) * time.Millisecond
}

// PollBackoff returns the pagination poll backoff.
func (c *Config) PollBackoff() time.Duration {
	return time.Duration(c.Pacing.PollBackoffMs) * time.Millisecond
}

// FetchTimeout returns the page fetch timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

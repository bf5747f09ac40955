// Package config loads the daemon configuration from the profile base dir
// (~/.chatsync/config.toml). Missing fields fall back to defaults; tunables
// cover cache retention, sync cadence, and connectivity probing.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full configuration tree.
type Config struct {
	DefaultProfile string  `toml:"default_profile"`
	Cache          Cache   `toml:"cache"`
	Sync           Sync    `toml:"sync"`
	Network        Network `toml:"network"`
	Remote         Remote  `toml:"remote"`
}

// Cache bounds the local cache.
type Cache struct {
	MaxMessages      int      `toml:"max_messages"`      // per conversation
	MaxConversations int      `toml:"max_conversations"`
	Expiry           duration `toml:"expiry"`
}

// Sync controls outbox draining and background resync.
type Sync struct {
	Interval    duration `toml:"interval"`
	MaxAttempts int      `toml:"max_attempts"`
	SettleDelay duration `toml:"settle_delay"` // wait after reconnect before full sync
}

// Network controls the connectivity probe.
type Network struct {
	ProbeURL      string   `toml:"probe_url"`
	ProbeInterval duration `toml:"probe_interval"`
	ProbeTimeout  duration `toml:"probe_timeout"`
}

// Remote points at the backing API.
type Remote struct {
	Endpoint   string `toml:"endpoint"`
	WSEndpoint string `toml:"ws_endpoint"`
}

// duration wraps time.Duration for TOML string decoding ("10s", "7d" is not
// supported by time.ParseDuration, use "168h").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Cache: Cache{
			MaxMessages:      1000,
			MaxConversations: 100,
			Expiry:           duration{7 * 24 * time.Hour},
		},
		Sync: Sync{
			Interval:    duration{60 * time.Second},
			MaxAttempts: 3,
			SettleDelay: duration{2 * time.Second},
		},
		Network: Network{
			ProbeInterval: duration{10 * time.Second},
			ProbeTimeout:  duration{5 * time.Second},
		},
	}
}

// Load reads config from the given path, filling unset fields with defaults.
// Returns defaults and the error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return Default(), err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Cache.MaxMessages <= 0 {
		c.Cache.MaxMessages = def.Cache.MaxMessages
	}
	if c.Cache.MaxConversations <= 0 {
		c.Cache.MaxConversations = def.Cache.MaxConversations
	}
	if c.Cache.Expiry.Duration <= 0 {
		c.Cache.Expiry = def.Cache.Expiry
	}
	if c.Sync.Interval.Duration <= 0 {
		c.Sync.Interval = def.Sync.Interval
	}
	if c.Sync.MaxAttempts <= 0 {
		c.Sync.MaxAttempts = def.Sync.MaxAttempts
	}
	if c.Sync.SettleDelay.Duration <= 0 {
		c.Sync.SettleDelay = def.Sync.SettleDelay
	}
	if c.Network.ProbeInterval.Duration <= 0 {
		c.Network.ProbeInterval = def.Network.ProbeInterval
	}
	if c.Network.ProbeTimeout.Duration <= 0 {
		c.Network.ProbeTimeout = def.Network.ProbeTimeout
	}
}

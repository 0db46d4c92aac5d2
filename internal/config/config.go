// Package config handles Manifold configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for Manifold.
type Config struct {
	// Backend settings
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Feed settings
	Feed FeedConfig `yaml:"feed" mapstructure:"feed"`

	// Identity settings
	Identity IdentityConfig `yaml:"identity" mapstructure:"identity"`

	// TUI settings
	TUI TUIConfig `yaml:"tui" mapstructure:"tui"`
}

// BackendConfig contains connection settings for the aggregation backend.
type BackendConfig struct {
	// URL is the websocket endpoint of the backend (ws:// or wss://).
	URL string `yaml:"url" mapstructure:"url"`

	// DialTimeout is the handshake timeout when connecting.
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`

	// CallTimeout bounds each request/response round trip.
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`

	// EventBuffer is the per-subscriber push event buffer size.
	EventBuffer int `yaml:"event_buffer" mapstructure:"event_buffer"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// FeedConfig contains conversation feed behavior settings.
type FeedConfig struct {
	// PageSize is the preferred page size hint sent with history requests.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`

	// ScrollThresholdRows is how close to the oldest loaded row the
	// viewport must be before older history is requested.
	ScrollThresholdRows int `yaml:"scroll_threshold_rows" mapstructure:"scroll_threshold_rows"`
}

// IdentityConfig contains sender presentation settings.
type IdentityConfig struct {
	// SelfName is the label used for the user's own messages.
	SelfName string `yaml:"self_name" mapstructure:"self_name"`

	// Aliases maps raw sender identifiers to preferred display names.
	Aliases map[string]string `yaml:"aliases" mapstructure:"aliases"`
}

// TUIConfig contains TUI settings.
type TUIConfig struct {
	// Theme is the color theme (default, dark, light).
	Theme string `yaml:"theme" mapstructure:"theme"`

	// ShowTimestamps shows timestamps next to messages.
	ShowTimestamps bool `yaml:"show_timestamps" mapstructure:"show_timestamps"`

	// CompactMode uses a more compact layout.
	CompactMode bool `yaml:"compact_mode" mapstructure:"compact_mode"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:         "ws://127.0.0.1:8990/ws",
			DialTimeout: 10 * time.Second,
			CallTimeout: 15 * time.Second,
			EventBuffer: 64,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			EnableCaller: false,
		},
		Feed: FeedConfig{
			PageSize:            50,
			ScrollThresholdRows: 5,
		},
		Identity: IdentityConfig{
			SelfName: "me",
			Aliases:  map[string]string{},
		},
		TUI: TUIConfig{
			Theme:          "default",
			ShowTimestamps: true,
			CompactMode:    false,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("backend.url is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("backend.url scheme must be ws or wss, got %q", u.Scheme)
	}

	if c.Backend.DialTimeout < time.Second {
		return fmt.Errorf("backend.dial_timeout must be at least 1s")
	}
	if c.Backend.CallTimeout < time.Second {
		return fmt.Errorf("backend.call_timeout must be at least 1s")
	}
	if c.Backend.EventBuffer < 1 {
		return fmt.Errorf("backend.event_buffer must be at least 1")
	}

	if c.Feed.PageSize < 1 {
		return fmt.Errorf("feed.page_size must be at least 1")
	}
	if c.Feed.ScrollThresholdRows < 0 {
		return fmt.Errorf("feed.scroll_threshold_rows must not be negative")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}

	return nil
}

// ConfigDir returns the directory Manifold config files live in.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "manifold")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "manifold")
}

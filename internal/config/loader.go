package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Viper's Unmarshal doesn't properly merge env vars for nested structs
	l.applyEnvOverrides(cfg)

	cfg.Logging.File = expandTilde(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "manifold"))
	}
	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "manifold"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("MANIFOLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)

	// Explicitly bind environment variables (Viper's Unmarshal has issues without this)
	bindEnvVars(v)

	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	// Backend
	v.SetDefault("backend.url", cfg.Backend.URL)
	v.SetDefault("backend.dial_timeout", cfg.Backend.DialTimeout)
	v.SetDefault("backend.call_timeout", cfg.Backend.CallTimeout)
	v.SetDefault("backend.event_buffer", cfg.Backend.EventBuffer)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	// Feed
	v.SetDefault("feed.page_size", cfg.Feed.PageSize)
	v.SetDefault("feed.scroll_threshold_rows", cfg.Feed.ScrollThresholdRows)

	// Identity
	v.SetDefault("identity.self_name", cfg.Identity.SelfName)

	// TUI
	v.SetDefault("tui.theme", cfg.TUI.Theme)
	v.SetDefault("tui.show_timestamps", cfg.TUI.ShowTimestamps)
	v.SetDefault("tui.compact_mode", cfg.TUI.CompactMode)
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, use defaults
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set sets a Viper value by key.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	loader := NewLoader()
	return loader.Load()
}

// bindEnvVars binds environment variables for config keys.
// Viper's Unmarshal has issues with env vars on nested structs unless
// explicitly bound; this ensures MANIFOLD_* env vars work correctly.
func bindEnvVars(v *viper.Viper) {
	envBindings := []string{
		// Backend
		"backend.url",
		"backend.dial_timeout",
		"backend.call_timeout",
		"backend.event_buffer",
		// Logging
		"logging.level",
		"logging.format",
		"logging.file",
		"logging.enable_caller",
		// Feed
		"feed.page_size",
		"feed.scroll_threshold_rows",
		// Identity
		"identity.self_name",
		// TUI
		"tui.theme",
		"tui.show_timestamps",
		"tui.compact_mode",
	}

	for _, key := range envBindings {
		// database.path -> MANIFOLD_DATABASE_PATH
		envVar := "MANIFOLD_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envVar)
	}
}

// applyEnvOverrides manually applies env var overrides to the config struct.
// This is needed because Viper's Unmarshal doesn't properly merge env vars
// for nested struct fields when a config file is present.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	v := l.v

	if u := v.GetString("backend.url"); u != "" {
		cfg.Backend.URL = u
	}
	if level := v.GetString("logging.level"); level != "" && level != "info" { // "info" is default
		cfg.Logging.Level = level
	}
	if format := v.GetString("logging.format"); format != "" && format != "console" { // "console" is default
		cfg.Logging.Format = format
	}
	if file := v.GetString("logging.file"); file != "" {
		cfg.Logging.File = file
	}
	if self := v.GetString("identity.self_name"); self != "" && self != "me" { // "me" is default
		cfg.Identity.SelfName = self
	}
}

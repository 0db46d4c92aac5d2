package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "ws://127.0.0.1:8990/ws", cfg.Backend.URL)
	require.Equal(t, 50, cfg.Feed.PageSize)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
backend:
  url: wss://hub.example.net/ws
  call_timeout: 30s
logging:
  level: debug
identity:
  self_name: sam
  aliases:
    "+15551234567": Dana
tui:
  compact_mode: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	require.Equal(t, "wss://hub.example.net/ws", cfg.Backend.URL)
	require.Equal(t, 30*time.Second, cfg.Backend.CallTimeout)
	require.Equal(t, 10*time.Second, cfg.Backend.DialTimeout, "unset fields keep defaults")
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "sam", cfg.Identity.SelfName)
	require.Equal(t, "Dana", cfg.Identity.Aliases["+15551234567"])
	require.True(t, cfg.TUI.CompactMode)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o644))

	t.Setenv("MANIFOLD_LOGGING_LEVEL", "error")
	t.Setenv("MANIFOLD_BACKEND_URL", "ws://other:9000/ws")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "error", cfg.Logging.Level)
	require.Equal(t, "ws://other:9000/ws", cfg.Backend.URL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http scheme", func(c *Config) { c.Backend.URL = "http://x/ws" }},
		{"zero event buffer", func(c *Config) { c.Backend.EventBuffer = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero page size", func(c *Config) { c.Feed.PageSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestMissingExplicitFileFails(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatalf("expected error for explicitly specified missing config file")
	}
}

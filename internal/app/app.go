// Package app wires configuration, logging, the backend client, and the
// feed controller into a runnable TUI session.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/manifoldchat/manifold/internal/backend"
	"github.com/manifoldchat/manifold/internal/config"
	"github.com/manifoldchat/manifold/internal/feed"
	"github.com/manifoldchat/manifold/internal/logging"
	"github.com/manifoldchat/manifold/internal/tui"
)

// Options carries CLI flag overrides. Empty fields defer to config.
type Options struct {
	ConfigFile   string
	BackendURL   string
	LogLevel     string
	LogFormat    string
	LogFile      string
	Theme        string
	Conversation string
}

// Run loads configuration, connects to the backend, and runs the TUI until
// it exits.
func Run(ctx context.Context, opts Options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	closeLog, err := initLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	log := logging.Component("app")
	log.Info().Str("backend", cfg.Backend.URL).Msg("connecting")

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Backend.DialTimeout)
	client, err := backend.NewWSClient(dialCtx, backend.WSConfig{
		URL:             cfg.Backend.URL,
		CallTimeout:     cfg.Backend.CallTimeout,
		SubscribeBuffer: cfg.Backend.EventBuffer,
		PageSize:        cfg.Feed.PageSize,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("connect to backend: %w", err)
	}
	defer client.Close()

	controller := feed.NewController(client, feed.NewReadTracker())
	if conv := strings.TrimSpace(opts.Conversation); conv != "" {
		controller.Switch(conv)
	}

	return tui.Run(tui.Config{
		Theme:          cfg.TUI.Theme,
		ShowTimestamps: cfg.TUI.ShowTimestamps,
		CompactMode:    cfg.TUI.CompactMode,
		SelfName:       cfg.Identity.SelfName,
		Aliases:        cfg.Identity.Aliases,

		ScrollThresholdRows: cfg.Feed.ScrollThresholdRows,
	}, controller, client)
}

func loadConfig(opts Options) (*config.Config, error) {
	loader := config.NewLoader()
	if opts.ConfigFile != "" {
		loader.SetConfigFile(opts.ConfigFile)
	}

	// Flag overrides sit above env vars and the file.
	if opts.BackendURL != "" {
		loader.Set("backend.url", opts.BackendURL)
	}
	if opts.LogLevel != "" {
		loader.Set("logging.level", opts.LogLevel)
	}
	if opts.LogFormat != "" {
		loader.Set("logging.format", opts.LogFormat)
	}
	if opts.LogFile != "" {
		loader.Set("logging.file", opts.LogFile)
	}
	if opts.Theme != "" {
		loader.Set("tui.theme", opts.Theme)
	}

	return loader.Load()
}

// initLogging configures the global logger. While the TUI owns the terminal,
// logs on a terminal stderr would corrupt the display, so they go to a file
// whenever stderr is a TTY; piped stderr gets machine-readable JSON.
func initLogging(cfg *config.Config) (func(), error) {
	logCfg := logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		EnableCaller: cfg.Logging.EnableCaller,
	}

	path := cfg.Logging.File
	stderrIsTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	if path == "" && stderrIsTerminal {
		path = defaultLogPath()
	}

	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logCfg.Output = f
		logCfg.Format = "json"
		logging.Init(logCfg)
		return func() { _ = f.Close() }, nil
	}

	if !stderrIsTerminal {
		logCfg.Format = "json"
	}
	logging.Init(logCfg)
	return func() {}, nil
}

func defaultLogPath() string {
	dir := config.ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	return filepath.Join(dir, "manifold.log")
}

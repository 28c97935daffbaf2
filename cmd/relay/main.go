// relay routes chat prompts to the cheapest capable model, queues the work
// and executes it under per-model rate windows. One binary carries the whole
// surface: one-shot admin commands, the foreground executor daemon and the
// TCP gateway.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/antigravity-dev/relay/internal/app"
	"github.com/antigravity-dev/relay/internal/config"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "path to the relay TOML config file",
		Value:   config.DefaultPath(),
		EnvVars: []string{"RELAY_CONFIG"},
	}
	devFlag = &cli.BoolFlag{
		Name:  "dev",
		Usage: "log in text format instead of JSON",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "print one JSON document instead of human output",
	}
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "relay",
		Usage: "route, queue and run chat tasks across local and remote models",
		Flags: []cli.Flag{configFlag, devFlag},
		Commands: []*cli.Command{
			initCommand,
			configCommand,
			agentsCommand,
			categoriesCommand,
			selectCommand,
			routeCommand,
			spawnCommand,
			daemonCommand,
			gatewayCommand,
			statusCommand,
			resultsCommand,
		},
	}
}

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// loadConfig reads the file named by --config. Commands that need state
// direct the user to init rather than silently running on defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no config at %s, run `relay init` first", path)
	}
	return cfg, err
}

// openApp loads configuration and wires the component graph for a one-shot
// command. Callers own Close.
func openApp(c *cli.Context) (*app.App, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.DataDir()); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("data directory %s missing, run `relay init` first", cfg.DataDir())
	}
	logger := configureLogger(cfg.General.LogLevel, c.Bool("dev"))
	return app.New(config.NewManager(cfg), logger)
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/antigravity-dev/relay/internal/api"
	"github.com/antigravity-dev/relay/internal/app"
	"github.com/antigravity-dev/relay/internal/config"
	"github.com/antigravity-dev/relay/internal/gateway"
)

var daemonCommand = &cli.Command{
	Name:   "daemon",
	Usage:  "run the executor and status API in the foreground",
	Action: runDaemon,
}

var gatewayCommand = &cli.Command{
	Name:   "gateway",
	Usage:  "run the TCP gateway in the foreground",
	Action: runGateway,
}

// openDaemonApp is openApp plus a process-wide default logger, so library
// code that falls back to slog.Default shares the daemon's handler.
func openDaemonApp(c *cli.Context) (*app.App, *slog.Logger, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(cfg.DataDir()); errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("data directory %s missing, run `relay init` first", cfg.DataDir())
	}
	logger := configureLogger(cfg.General.LogLevel, c.Bool("dev"))
	slog.SetDefault(logger)

	a, err := app.New(config.NewManager(cfg), logger)
	if err != nil {
		return nil, nil, err
	}
	return a, logger, nil
}

func runDaemon(c *cli.Context) error {
	a, logger, err := openDaemonApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.StartExecutor(); err != nil {
		return fmt.Errorf("start executor: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- api.NewServer(a.Config(), a, logger).Start(ctx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg := a.Config().Get()
	logger.Info("relay daemon running", "pid", os.Getpid(), "api", cfg.API.Bind, "store", cfg.StorePath())

	for {
		select {
		case err := <-apiErr:
			a.StopExecutor()
			if err != nil {
				return fmt.Errorf("api server: %w", err)
			}
			return nil

		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if err := reloadDaemonConfig(a, c.String("config")); err != nil {
					logger.Error("config reload rejected, keeping previous", "error", err)
				}
				continue
			}

			logger.Info("shutting down", "signal", sig.String())
			done := make(chan struct{})
			go func() {
				a.StopExecutor()
				cancel()
				close(done)
			}()
			select {
			case <-done:
				<-apiErr
				logger.Info("relay daemon stopped")
				return nil
			case sig := <-sigCh:
				// Second signal: give up on the drain. The PID file stays
				// behind and the next start reaps it.
				logger.Warn("forced exit before drain finished", "signal", sig.String())
				os.Exit(1)
			}
		}
	}
}

// reloadDaemonConfig applies a SIGHUP reload. Keys that components bound at
// startup cannot change without a restart.
func reloadDaemonConfig(a *app.App, path string) error {
	next, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := validateDaemonReload(a.Config().Get(), next); err != nil {
		return err
	}
	return a.ReloadConfig(path)
}

func validateDaemonReload(old, next *config.Config) error {
	if next.DataDir() != old.DataDir() {
		return fmt.Errorf("general.data_dir changed (%q -> %q) and requires restart",
			old.General.DataDir, next.General.DataDir)
	}
	if next.API.Bind != old.API.Bind {
		return fmt.Errorf("api.bind changed (%q -> %q) and requires restart",
			old.API.Bind, next.API.Bind)
	}
	return nil
}

func runGateway(c *cli.Context) error {
	a, logger, err := openDaemonApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("relay gateway running", "pid", os.Getpid(), "bind", a.Config().Get().Gateway.Bind)
	return gateway.NewServer(a.Config(), a, logger).Start(ctx)
}

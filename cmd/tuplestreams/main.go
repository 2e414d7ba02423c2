// Package main runs tuplestreams: it binds the configured datagram channels under
// leases, records their tuples into the tuple store and serves Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/tuplestreams/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "tuplestreams"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)
	slog.Info("Starting tuplestreams",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid", "channels", len(cfg.Channels), "store", cfg.Store.Backend)
		return nil
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	a := newApp(cfg, logger)
	startErr := a.start(signalCtx)
	if startErr == nil {
		slog.Info("tuplestreams started", "channels", len(cfg.Channels))
		<-signalCtx.Done()
		slog.Info("Received shutdown signal")
	}

	if err := shutdown(a, cliCfg.ShutdownTimeout); err != nil {
		if startErr != nil {
			return errors.Join(startErr, err)
		}
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if startErr != nil {
		return startErr
	}
	slog.Info("tuplestreams shutdown complete")
	return nil
}

func shutdown(a *app, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return a.stop(ctx)
}

// loadConfig loads path over the defaults and validates the result. An empty path runs
// on defaults and environment overrides alone.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

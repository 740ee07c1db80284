// Package main runs the ziggurat stream orchestrator: it loads the
// configuration, connects to NATS JetStream and starts one pipeline per
// stream_router entity.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Aishwarya-Atre-1/ziggurat/config"
	"github.com/Aishwarya-Atre-1/ziggurat/metric"
	"github.com/Aishwarya-Atre-1/ziggurat/natsclient"
	"github.com/Aishwarya-Atre-1/ziggurat/pkg/retry"
	"github.com/Aishwarya-Atre-1/ziggurat/service"
	"github.com/Aishwarya-Atre-1/ziggurat/streams"
)

// Build information
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "ziggurat"
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
		slog.Error("application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
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

	cfg, err := loadConfig(cliCfg.ConfigPaths)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		logger.Info("configuration is valid", "entities", len(cfg.StreamRouter))
		return nil
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = cliCfg.ShutdownTimeout
	}

	logger.Info("starting ziggurat",
		"version", Version,
		"build_time", BuildTime,
		"app_name", cfg.AppName,
		"env", cfg.Env,
		"entities", len(cfg.StreamRouter))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()

	client, err := connectToNATS(ctx, cfg, registry, logger, cliCfg.ConnectTimeout)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("closing NATS client failed", "error", err)
		}
	}()

	if _, err := client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     cfg.NATS.Stream,
		Subjects: cfg.NATS.Subjects,
	}); err != nil {
		return fmt.Errorf("ensure stream %s: %w", cfg.NATS.Stream, err)
	}

	source := natsclient.NewSource(client, cfg.NATS.Stream,
		natsclient.WithSubjects(cfg.NATS.Subjects...),
		natsclient.WithSourceLogger(logger))

	manager, err := streams.NewManager(cfg, source,
		streams.WithLogger(logger),
		streams.WithMetricsRegistry(registry))
	if err != nil {
		return fmt.Errorf("create stream manager: %w", err)
	}

	metricsServer := startMetricsServer(cfg, registry, logger)
	controlServer := startControlServer(cfg, manager, client, registry, logger)

	reg, err := manager.StartAll(ctx, logRoutes(cfg, logger))
	if err != nil {
		// entities that failed are logged; the rest keep running
		logger.Error("some pipelines failed to start", "error", err)
	}
	logger.Info("ziggurat started", "pipelines", len(reg))

	<-ctx.Done()
	logger.Info("received shutdown signal")

	return shutdown(manager, metricsServer, controlServer, cliCfg.ShutdownTimeout, logger)
}

// loadConfig merges every config layer over the defaults
func loadConfig(paths []string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range paths {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// connectToNATS retries the initial connection until timeout
func connectToNATS(ctx context.Context, cfg *config.Config, registry *metric.MetricsRegistry,
	logger *slog.Logger, timeout time.Duration) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(cfg.AppName),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithMetrics(registry),
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("connecting to NATS", "urls", cfg.NATS.URLs)
	err = retry.Do(connCtx, retry.Config{
		MaxAttempts:  10,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}, func() error {
		err := client.Connect(connCtx)
		switch {
		case err == nil:
			return nil
		case stderrors.Is(err, natsclient.ErrClientClosed):
			return retry.NonRetryable(err)
		}
		logger.Warn("NATS connect attempt failed", "error", err)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}

func startMetricsServer(cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) *metric.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}
	server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
	go func() {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := server.Start(); err != nil {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return server
}

func startControlServer(cfg *config.Config, manager *streams.Manager, client *natsclient.Client,
	registry *metric.MetricsRegistry, logger *slog.Logger) *service.ControlServer {
	if !cfg.Control.Enabled {
		return nil
	}
	server := service.NewControlServer(cfg.Control.Port, manager,
		service.WithControlLogger(logger),
		service.WithBroker(client),
		service.WithMetricsGatherer(registry))
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("control server error", "error", err)
		}
	}()
	return server
}

// shutdown stops the HTTP servers first so no lifecycle call races the
// manager's shutdown.
func shutdown(manager *streams.Manager, metricsServer *metric.Server, controlServer *service.ControlServer,
	timeout time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if controlServer != nil {
		if err := controlServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := manager.Shutdown(); err != nil {
		logger.Error("error stopping pipelines", "error", err)
		errs = append(errs, err)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := stderrors.Join(errs...); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("ziggurat shutdown complete")
	return nil
}

package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     []string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ConnectTimeout  time.Duration
	ShowVersion     bool
	Validate        bool
}

type layerFlag struct {
	paths *[]string
}

func (f layerFlag) String() string {
	if f.paths == nil {
		return ""
	}
	return fmt.Sprint(*f.paths)
}

func (f layerFlag) Set(v string) error {
	*f.paths = append(*f.paths, v)
	return nil
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.Var(layerFlag{&cfg.ConfigPaths}, "config",
		"Configuration file, repeat to layer overrides (env: ZIGGURAT_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("ZIGGURAT_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: ZIGGURAT_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("ZIGGURAT_LOG_FORMAT", "json"),
		"Log format: json, text (env: ZIGGURAT_LOG_FORMAT)")
	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("ZIGGURAT_DEBUG", false),
		"Enable debug logging (env: ZIGGURAT_DEBUG)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("ZIGGURAT_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: ZIGGURAT_SHUTDOWN_TIMEOUT)")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout",
		getEnvDuration("ZIGGURAT_CONNECT_TIMEOUT", 30*time.Second),
		"How long to retry the initial NATS connection (env: ZIGGURAT_CONNECT_TIMEOUT)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printHelp(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if len(cfg.ConfigPaths) == 0 {
		cfg.ConfigPaths = []string{getEnv("ZIGGURAT_CONFIG", "configs/ziggurat.yaml")}
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}

	for _, path := range cfg.ConfigPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file not found: %s", path)
		}
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - streams orchestration over NATS JetStream

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Base config with an environment overlay
  %s --config=configs/ziggurat.yaml --config=configs/prod.yaml

  # Text logs at debug level
  %s --log-level=debug --log-format=text

  # Validate configuration only
  %s --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aishwarya-Atre-1/ziggurat/errors"
)

const maxConfigSize = 10 << 20

// durationKeys are dotted paths whose string values are parsed as durations
var durationKeys = [][]string{
	{"shutdown_timeout"},
	{"nats", "reconnect_wait"},
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a loader with validation enabled and the ZIGGURAT env prefix
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  "ZIGGURAT",
	}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer and env overrides into a Config
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Defaults())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		merged = deepMergeMaps(merged, raw)
	}

	if l.validation {
		if err := ValidateSchema(merged); err != nil {
			return nil, err
		}
	}

	if err := parseDurations(merged); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "parse durations")
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Loader", "Load", "decode config")
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		AppName: "ziggurat",
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Stream:        "ZIGGURAT",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Control: ControlConfig{
			Enabled: true,
			Port:    8080,
		},
		EnableStreamsUncaughtExceptionHandling: true,
		ShutdownTimeout:                        30 * time.Second,
		DefaultStream:                          DefaultStreamConfig(),
		StreamRouter:                           map[string]StreamConfig{},
	}
}

func (l *Loader) loadRaw(path string) (map[string]any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes", info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
		// same shape as JSON decoding
		raw, err = normalize(raw)
		if err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	}
	return raw, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func parseDurations(m map[string]any) error {
	for _, path := range durationKeys {
		parent := m
		for _, key := range path[:len(path)-1] {
			next, ok := parent[key].(map[string]any)
			if !ok {
				parent = nil
				break
			}
			parent = next
		}
		if parent == nil {
			continue
		}

		leaf := path[len(path)-1]
		s, ok := parent[leaf].(string)
		if !ok {
			continue
		}
		d, err := parseDurationWithDays(s)
		if err != nil {
			return fmt.Errorf("%s: %w", strings.Join(path, "."), err)
		}
		parent[leaf] = int64(d)
	}
	return nil
}

// parseDurationWithDays extends time.ParseDuration with a "d" suffix
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_APP_NAME"); val != "" {
		cfg.AppName = val
	}
	if val := os.Getenv(l.envPrefix + "_ENV"); val != "" {
		cfg.Env = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := os.Getenv(l.envPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := os.Getenv(l.envPrefix + "_FEATURES_STREAM_JOINS"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Features.StreamJoins = b
		}
	}
	if val := os.Getenv(l.envPrefix + "_METRICS_PORT"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Port = p
		}
	}
	if val := os.Getenv(l.envPrefix + "_CONTROL_PORT"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			cfg.Control.Port = p
		}
	}
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	err = json.Unmarshal(data, &m)
	return m, err
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func normalize(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	return toMap(m)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aishwarya-Atre-1/ziggurat/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_JSONLayer(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"app_name": "orders-app",
		"shutdown_timeout": "5s",
		"features": {"stream_joins": true},
		"default_stream": {"stream_threads_count": 2},
		"stream_router": {"orders": {"origin_topic": "orders-topic"}}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "orders-app", cfg.AppName)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.Features.StreamJoins)
	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 2, cfg.DefaultStream.StreamThreadsCount)
	assert.Equal(t, 10000, cfg.DefaultStream.BufferedRecordsPerPartition, "defaults survive a partial default_stream")
	assert.Equal(t, "orders-topic", cfg.StreamRouter["orders"].OriginTopic)
}

func TestLoader_YAMLOverJSON(t *testing.T) {
	base := writeFile(t, "base.json", `{"app_name": "a", "stream_router": {"orders": {"origin_topic": "orders"}}}`)
	over := writeFile(t, "over.yaml", `
app_name: b
stream_router:
  orders:
    auto_offset_reset: earliest
  payments:
    origin_topic: "payments-.*"
    stream_threads_count: 8
`)

	l := NewLoader()
	l.AddLayer(base)
	l.AddLayer(over)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "b", cfg.AppName)
	assert.Equal(t, "orders", cfg.StreamRouter["orders"].OriginTopic)
	assert.Equal(t, OffsetEarliest, cfg.StreamRouter["orders"].AutoOffsetReset)
	assert.Equal(t, 8, cfg.StreamRouter["payments"].StreamThreadsCount)
}

func TestLoader_SchemaRejectsWrongTypes(t *testing.T) {
	path := writeFile(t, "bad.json", `{"stream_router": {"orders": {"stream_threads_count": "many"}}}`)

	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "stream_threads_count")
}

func TestLoader_Errors(t *testing.T) {
	_, err := NewLoader().LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.IsInvalid(err))

	path := writeFile(t, "broken.json", `{`)
	_, err = NewLoader().LoadFile(path)
	assert.ErrorIs(t, err, errors.ErrParsingFailed)

	path = writeFile(t, "dur.json", `{"shutdown_timeout": "soon"}`)
	_, err = NewLoader().LoadFile(path)
	assert.Error(t, err)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("ZIGGURAT_APP_NAME", "from-env")
	t.Setenv("ZIGGURAT_NATS_URLS", "nats://a:4222,nats://b:4222")
	t.Setenv("ZIGGURAT_FEATURES_STREAM_JOINS", "true")
	t.Setenv("ZIGGURAT_METRICS_PORT", "9999")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.AppName)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.True(t, cfg.Features.StreamJoins)
	assert.Equal(t, 9999, cfg.Metrics.Port)
}

func TestParseDurationWithDays(t *testing.T) {
	d, err := parseDurationWithDays("7d")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, d)

	d, err = parseDurationWithDays("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = parseDurationWithDays("xd")
	assert.Error(t, err)
}

func TestDeepMergeMaps(t *testing.T) {
	base := map[string]any{"a": 1, "n": map[string]any{"x": 1, "y": 2}}
	over := map[string]any{"b": 2, "n": map[string]any{"y": 3}, "skip": nil}

	merged := deepMergeMaps(base, over)
	assert.Equal(t, map[string]any{
		"a": 1,
		"b": 2,
		"n": map[string]any{"x": 1, "y": 3},
	}, merged)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	cfg.AppName = ""
	assert.ErrorIs(t, cfg.Validate(), errors.ErrMissingConfig)

	cfg = Defaults()
	cfg.NATS.URLs = nil
	assert.True(t, errors.IsInvalid(cfg.Validate()))
}

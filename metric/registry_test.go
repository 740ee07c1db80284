package metric

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aishwarya-Atre-1/ziggurat/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry_CoreMetrics(t *testing.T) {
	r := NewMetricsRegistry()
	require.NotNil(t, r.CoreMetrics())

	r.Metrics.RecordMessageRead("app", "orders")
	r.Metrics.RecordJoinsMessageRead("app", "orders", "payments")
	r.Metrics.RecordReceivedDelay("app", "orders", time.Second)
	r.Metrics.RecordPipelineState("orders", 1)

	names := gatheredNames(t, r)
	assert.True(t, names["ziggurat_message_read_total"])
	assert.True(t, names["ziggurat_stream_joins_message_read_total"])
	assert.True(t, names["ziggurat_message_received_delay_seconds"])
	assert.True(t, names["ziggurat_pipeline_state"])
	assert.True(t, names["go_goroutines"])
}

func TestMetrics_RecordValues(t *testing.T) {
	m := NewMetrics()

	m.RecordMessageRead("app", "orders")
	m.RecordMessageRead("app", "orders")
	m.RecordUncaughtError("orders")
	m.RecordPipelineState("orders", 3)
	m.RecordNATSStatus(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessageRead.WithLabelValues("app", "orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UncaughtErrors.WithLabelValues("orders")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PipelineState.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))

	m.RecordJoinsReceivedDelay("app", "orders", "payments", 2*time.Second)
	assert.Equal(t, 1, testutil.CollectAndCount(m.JoinsMessageReceivedDelay))
}

func TestMetricsRegistry_RegisterAndDuplicate(t *testing.T) {
	r := NewMetricsRegistry()

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custom_total",
		Help: "custom",
	}, []string{"pool"})
	require.NoError(t, r.RegisterCounterVec("workers", "custom_total", vec))

	err := r.RegisterCounterVec("workers", "custom_total", vec)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	other := prometheus.NewCounter(prometheus.CounterOpts{Name: "custom_total", Help: "custom"})
	err = r.RegisterCounter("other", "custom_total", other)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	r := NewMetricsRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "depth", Help: "depth"})

	require.NoError(t, r.RegisterGauge("svc", "depth", gauge))
	assert.True(t, r.Unregister("svc", "depth"))
	assert.False(t, r.Unregister("svc", "depth"))
	require.NoError(t, r.RegisterGauge("svc", "depth", gauge))
}

func TestServer_Handler(t *testing.T) {
	r := NewMetricsRegistry()
	r.Metrics.RecordMessageRead("app", "orders")
	s := NewServer(0, "", r)
	assert.Equal(t, "http://localhost:9090/metrics", s.Address())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ziggurat_message_read_total{app_name="app",topic_name="orders"} 1`)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "OK", rec.Body.String())
}

func TestServer_ScrapeParses(t *testing.T) {
	r := NewMetricsRegistry()
	r.Metrics.RecordMessageRead("app", "orders")
	r.Metrics.RecordMessageRead("app", "orders")
	r.Metrics.RecordJoinsMessageRead("app", "enriched", "payments")
	r.Metrics.RecordReceivedDelay("app", "orders", 250*time.Millisecond)

	rec := httptest.NewRecorder()
	NewServer(0, "", r).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(rec.Body)
	require.NoError(t, err)

	read, ok := families["ziggurat_message_read_total"]
	require.True(t, ok)
	require.Len(t, read.GetMetric(), 1)
	assert.Equal(t, 2.0, read.GetMetric()[0].GetCounter().GetValue())

	joins, ok := families["ziggurat_stream_joins_message_read_total"]
	require.True(t, ok)
	labels := map[string]string{}
	for _, lp := range joins.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	assert.Equal(t, map[string]string{"app_name": "app", "topic_name": "enriched", "input_topic": "payments"}, labels)

	delay, ok := families["ziggurat_message_received_delay_seconds"]
	require.True(t, ok)
	assert.Equal(t, uint64(1), delay.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestServer_StartWithoutRegistry(t *testing.T) {
	s := NewServer(0, "", nil)
	err := s.Start()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.NoError(t, s.Stop())
}

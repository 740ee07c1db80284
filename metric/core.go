package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every core metric
const Namespace = "ziggurat"

// Label names shared by the stream metrics
const (
	LabelAppName    = "app_name"
	LabelTopicName  = "topic_name"
	LabelInputTopic = "input_topic"
	LabelStatus     = "status"
)

var delayBuckets = []float64{0.005, 0.05, 0.25, 1, 5, 30, 60, 300, 1800, 3600, 86400}

// Metrics contains the stream metrics shared by every pipeline
type Metrics struct {
	MessageRead               *prometheus.CounterVec
	MessageReceivedDelay      *prometheus.HistogramVec
	JoinsMessageRead          *prometheus.CounterVec
	JoinsMessageReceivedDelay *prometheus.HistogramVec
	PipelineState             *prometheus.GaugeVec
	UncaughtErrors            *prometheus.CounterVec
	HandlerDuration           *prometheus.HistogramVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the core stream metrics. They are unregistered until
// passed through a MetricsRegistry.
func NewMetrics() *Metrics {
	single := []string{LabelAppName, LabelTopicName}
	joined := []string{LabelAppName, LabelTopicName, LabelInputTopic}

	return &Metrics{
		MessageRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "message_read_total",
			Help:      "Messages read by single-source pipelines",
		}, single),
		MessageReceivedDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "message_received_delay_seconds",
			Help:      "Time between ingestion and consumption for single-source pipelines",
			Buckets:   delayBuckets,
		}, single),
		JoinsMessageRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream_joins",
			Name:      "message_read_total",
			Help:      "Messages read per input topic of join pipelines",
		}, joined),
		JoinsMessageReceivedDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "stream_joins",
			Name:      "message_received_delay_seconds",
			Help:      "Time between ingestion and consumption per input topic of join pipelines",
			Buckets:   delayBuckets,
		}, joined),
		PipelineState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pipeline_state",
			Help:      "Pipeline run-state (0=created, 1=running, 2=pending_shutdown, 3=not_running, 4=error)",
		}, []string{LabelTopicName}),
		UncaughtErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "uncaught_errors_total",
			Help:      "Handler failures reported to the uncaught error hook",
		}, []string{LabelTopicName}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "handler_duration_seconds",
			Help:      "Handler execution time",
			Buckets:   prometheus.DefBuckets,
		}, []string{LabelTopicName, LabelStatus}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "1 when the broker connection is up",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Broker reconnect count",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessageRead,
		m.MessageReceivedDelay,
		m.JoinsMessageRead,
		m.JoinsMessageReceivedDelay,
		m.PipelineState,
		m.UncaughtErrors,
		m.HandlerDuration,
		m.NATSConnected,
		m.NATSReconnects,
	}
}

// RecordMessageRead counts one message for a single-source pipeline
func (m *Metrics) RecordMessageRead(appName, topic string) {
	m.MessageRead.WithLabelValues(appName, topic).Inc()
}

// RecordJoinsMessageRead counts one message on an input topic of a join pipeline
func (m *Metrics) RecordJoinsMessageRead(appName, topic, inputTopic string) {
	m.JoinsMessageRead.WithLabelValues(appName, topic, inputTopic).Inc()
}

// RecordReceivedDelay observes ingestion delay for a single-source pipeline
func (m *Metrics) RecordReceivedDelay(appName, topic string, delay time.Duration) {
	m.MessageReceivedDelay.WithLabelValues(appName, topic).Observe(delay.Seconds())
}

// RecordJoinsReceivedDelay observes ingestion delay on an input topic of a join pipeline
func (m *Metrics) RecordJoinsReceivedDelay(appName, topic, inputTopic string, delay time.Duration) {
	m.JoinsMessageReceivedDelay.WithLabelValues(appName, topic, inputTopic).Observe(delay.Seconds())
}

// RecordPipelineState publishes the numeric run-state of an entity's pipeline
func (m *Metrics) RecordPipelineState(topic string, state int) {
	m.PipelineState.WithLabelValues(topic).Set(float64(state))
}

// RecordUncaughtError counts a failure seen by the uncaught error hook
func (m *Metrics) RecordUncaughtError(topic string) {
	m.UncaughtErrors.WithLabelValues(topic).Inc()
}

// RecordHandlerDuration observes handler execution time
func (m *Metrics) RecordHandlerDuration(topic string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.HandlerDuration.WithLabelValues(topic, status).Observe(d.Seconds())
}

// RecordNATSStatus tracks broker connectivity
func (m *Metrics) RecordNATSStatus(connected bool) {
	if connected {
		m.NATSConnected.Set(1)
		return
	}
	m.NATSConnected.Set(0)
}

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aishwarya-Atre-1/ziggurat/metric"
)

// Metrics holds pipeline runtime metrics shared by every pipeline
type Metrics struct {
	transitions *prometheus.CounterVec
	records     *prometheus.CounterVec
	closeTime   *prometheus.HistogramVec
}

// NewMetrics creates and registers pipeline runtime metrics. A nil registry
// disables them.
func NewMetrics(registry metric.MetricsRegistrar) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "transitions_total",
			Help:      "Pipeline run-state transitions",
		}, []string{"pipeline", "to"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Records processed by pipelines",
		}, []string{"pipeline", "source", "status"}),
		closeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "close_duration_seconds",
			Help:      "Time taken to close a pipeline",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"pipeline"}),
	}

	if err := registry.RegisterCounterVec("pipeline", "transitions_total", m.transitions); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("pipeline", "records_total", m.records); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("pipeline", "close_duration_seconds", m.closeTime); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordTransition(pipeline string, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(pipeline, to.String()).Inc()
}

func (m *Metrics) recordRecord(pipeline, source string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.records.WithLabelValues(pipeline, source, status).Inc()
}

func (m *Metrics) recordClose(pipeline string, d time.Duration) {
	if m == nil {
		return
	}
	m.closeTime.WithLabelValues(pipeline).Observe(d.Seconds())
}

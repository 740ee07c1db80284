package worker

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aishwarya-Atre-1/ziggurat/metric"
)

// Metrics holds the collectors shared by every pool, labelled by pool name
type Metrics struct {
	submitted *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetrics creates pool metrics and registers them with registry
func NewMetrics(registry metric.MetricsRegistrar) (*Metrics, error) {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "worker",
			Name:      "submitted_total",
			Help:      "Work items submitted to stream threads",
		}, []string{"pool"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "worker",
			Name:      "processing_duration_seconds",
			Help:      "Time spent processing work items",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"pool", "status"}),
	}

	if registry == nil {
		return m, nil
	}
	if err := registry.RegisterCounterVec("worker_pool", "submitted_total", m.submitted); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("worker_pool", "processing_duration_seconds", m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

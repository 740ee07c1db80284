package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aishwarya-Atre-1/ziggurat/metric"
)

// jetstreamMetrics tracks the streams and consumers opened through this client
type jetstreamMetrics struct {
	streamMessages      *prometheus.GaugeVec
	streamBytes         *prometheus.GaugeVec
	consumerPending     *prometheus.GaugeVec
	consumerAckPending  *prometheus.GaugeVec
	consumerRedelivered *prometheus.GaugeVec
	errors              *prometheus.CounterVec

	mu        sync.RWMutex
	streams   map[string]jetstream.Stream
	consumers map[string]jetstream.Consumer
}

func newJetStreamMetrics(registry metric.MetricsRegistrar) (*jetstreamMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "jetstream",
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &jetstreamMetrics{
		streamMessages:      gauge("stream_messages", "Current number of messages in stream", "stream"),
		streamBytes:         gauge("stream_bytes", "Storage bytes used by stream", "stream"),
		consumerPending:     gauge("consumer_pending_messages", "Messages not yet delivered to consumer", "stream", "consumer"),
		consumerAckPending:  gauge("consumer_ack_pending_messages", "Delivered messages awaiting ack", "stream", "consumer"),
		consumerRedelivered: gauge("consumer_redelivered_messages", "Messages redelivered to consumer", "stream", "consumer"),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "jetstream",
			Name:      "operation_errors_total",
			Help:      "Total number of JetStream operation errors",
		}, []string{"operation"}),
		streams:   make(map[string]jetstream.Stream),
		consumers: make(map[string]jetstream.Consumer),
	}

	gauges := map[string]*prometheus.GaugeVec{
		"stream_messages":      m.streamMessages,
		"stream_bytes":         m.streamBytes,
		"consumer_pending":     m.consumerPending,
		"consumer_ack_pending": m.consumerAckPending,
		"consumer_redelivered": m.consumerRedelivered,
	}
	for name, g := range gauges {
		if err := registry.RegisterGaugeVec("jetstream", name, g); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterCounterVec("jetstream", "errors", m.errors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *jetstreamMetrics) trackStream(name string, stream jetstream.Stream) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[name] = stream
}

func (m *jetstreamMetrics) trackConsumer(streamName, consumerName string, consumer jetstream.Consumer) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumers[streamName+":"+consumerName] = consumer
}

func (m *jetstreamMetrics) untrackConsumer(streamName, consumerName string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.consumers, streamName+":"+consumerName)
	m.consumerPending.DeleteLabelValues(streamName, consumerName)
	m.consumerAckPending.DeleteLabelValues(streamName, consumerName)
	m.consumerRedelivered.DeleteLabelValues(streamName, consumerName)
}

func (m *jetstreamMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// updateStats refreshes the gauges of every tracked stream and consumer.
// Unavailable resources are skipped.
func (m *jetstreamMetrics) updateStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	streams := make(map[string]jetstream.Stream, len(m.streams))
	consumers := make([]jetstream.Consumer, 0, len(m.consumers))
	for k, v := range m.streams {
		streams[k] = v
	}
	for _, v := range m.consumers {
		consumers = append(consumers, v)
	}
	m.mu.RUnlock()

	for name, stream := range streams {
		info, err := stream.Info(ctx)
		if err != nil {
			continue
		}
		m.streamMessages.WithLabelValues(name).Set(float64(info.State.Msgs))
		m.streamBytes.WithLabelValues(name).Set(float64(info.State.Bytes))
	}

	for _, consumer := range consumers {
		info, err := consumer.Info(ctx)
		if err != nil {
			continue
		}
		m.consumerPending.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumPending))
		m.consumerAckPending.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumAckPending))
		m.consumerRedelivered.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumRedelivered))
	}
}

// startPoller polls stats until the returned cancel func is called
func (m *jetstreamMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.updateStats(ctx)
			}
		}
	}()
	return cancel
}

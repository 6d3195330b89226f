package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "stdin_amqp"

type MetricsConfig struct {
	// Addr serves /metrics and /health when set, e.g. ":9090".
	Addr string `env:"METRICS_ADDR" flag:"metrics-addr" default:""`
}

// Metrics implements forwarder.Recorder.
type Metrics struct {
	batchesDispatched prometheus.Counter
	batchSize         prometheus.Histogram
	messages          *prometheus.CounterVec // by status
	publishDuration   prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		batchesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batches_dispatched_total",
			Help:      "Number of non-empty batches handed to the publisher",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "batch_size",
			Help:      "Messages per dispatched batch",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_total",
			Help:      "Messages published, by result status",
		}, []string{"status"}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time taken to publish one message, including any broker confirm",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, collector := range []prometheus.Collector{
		m.batchesDispatched,
		m.batchSize,
		m.messages,
		m.publishDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) BatchDispatched(size int) {
	m.batchesDispatched.Inc()
	m.batchSize.Observe(float64(size))
}

func (m *Metrics) MessagePublished(status string, elapsed time.Duration) {
	m.messages.WithLabelValues(status).Inc()
	m.publishDuration.Observe(elapsed.Seconds())
}

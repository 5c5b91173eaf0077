package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tessd"

// MQTT / ingest counters (incremented by the subscriber).
var (
	MQTTMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mqtt_messages_total",
		Help:      "Total MQTT messages received.",
	})

	MQTTDiscardedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mqtt_discarded_total",
		Help:      "MQTT messages discarded before enqueueing, by reason.",
	}, []string{"reason"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Staging queue depth sampled at each writer tick.",
	}, []string{"queue"})
)

// Registry and writer counters.
var (
	RegistrationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Registration messages applied, by state machine branch.",
	}, []string{"branch"})

	ReadingsStoredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "readings_stored_total",
		Help:      "Readings written to the fact tables, by shape.",
	}, []string{"shape"})

	ReadingsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "readings_rejected_total",
		Help:      "Readings dropped by the writer, by reason.",
	}, []string{"reason"})

	WriterTickSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "writer_tick_seconds",
		Help:      "Wall time of one writer drain tick.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms → 4s
	})

	SunriseBatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sunrise_batches_total",
		Help:      "Sunrise/sunset recomputation batches written.",
	})
)

func init() {
	prometheus.MustRegister(
		MQTTMessagesTotal,
		MQTTDiscardedTotal,
		QueueDepth,
		RegistrationsTotal,
		ReadingsStoredTotal,
		ReadingsRejectedTotal,
		WriterTickSeconds,
		SunriseBatchesTotal,
	)
}

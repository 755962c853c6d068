// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	IngestStored   = "stored"
	IngestRejected = "rejected"
	IngestFailed   = "failed"

	MessageInitial = "initial"
	MessageEvent   = "event"

	DropQueueFull   = "queue_full"
	DropWriteFailed = "write_failed"
	DropClosed      = "closed"
)

var (
	initOnce sync.Once

	eventsIngestedCounter     *prometheus.CounterVec
	insertDurationMetric      prometheus.Histogram
	streamConnectionsGauge    prometheus.Gauge
	streamMessagesSentCounter *prometheus.CounterVec
	streamDroppedCounter      *prometheus.CounterVec
	broadcastDurationMetric   prometheus.Histogram
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		eventsIngestedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hook_events_ingested_total",
				Help: "Total number of submitted hook events by result.",
			},
			[]string{"result"},
		)

		insertDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hook_event_insert_duration_seconds",
				Help:    "Duration of event store inserts in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		streamConnectionsGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stream_connections",
				Help: "Number of registered live-stream connections.",
			},
		)

		streamMessagesSentCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_messages_sent_total",
				Help: "Total number of stream messages written to peers by type.",
			},
			[]string{"type"},
		)

		streamDroppedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_clients_dropped_total",
				Help: "Total number of stream clients dropped by reason.",
			},
			[]string{"reason"},
		)

		broadcastDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "broadcast_duration_seconds",
				Help:    "Duration of event fan-out to all registered clients in seconds.",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
		)

		prometheus.MustRegister(
			eventsIngestedCounter,
			insertDurationMetric,
			streamConnectionsGauge,
			streamMessagesSentCounter,
			streamDroppedCounter,
			broadcastDurationMetric,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, result := range []string{IngestStored, IngestRejected, IngestFailed} {
			eventsIngestedCounter.WithLabelValues(result)
		}
		for _, typ := range []string{MessageInitial, MessageEvent} {
			streamMessagesSentCounter.WithLabelValues(typ)
		}
		for _, reason := range []string{DropQueueFull, DropWriteFailed, DropClosed} {
			streamDroppedCounter.WithLabelValues(reason)
		}
	})
}

func IncEventsIngested(result string) {
	Init()
	eventsIngestedCounter.WithLabelValues(result).Inc()
}

func ObserveInsertDuration(d time.Duration) {
	Init()
	insertDurationMetric.Observe(d.Seconds())
}

func SetStreamConnections(n int) {
	Init()
	streamConnectionsGauge.Set(float64(n))
}

func IncStreamMessagesSent(messageType string) {
	Init()
	streamMessagesSentCounter.WithLabelValues(messageType).Inc()
}

func IncStreamClientsDropped(reason string) {
	Init()
	streamDroppedCounter.WithLabelValues(reason).Inc()
}

func ObserveBroadcastDuration(d time.Duration) {
	Init()
	broadcastDurationMetric.Observe(d.Seconds())
}

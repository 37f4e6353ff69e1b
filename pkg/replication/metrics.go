package replication

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of a replicator and its
// receivers. A nil *Metrics records nothing.
type Metrics struct {
	packetsSent      prometheus.Counter
	bytesSent        prometheus.Counter
	entitiesSent     prometheus.Counter
	entitiesDeferred prometheus.Counter
	sendErrors       prometheus.Counter

	streamsApplied   prometheus.Counter
	streamsDiscarded prometheus.Counter

	observers    prometheus.Gauge
	tickDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		packetsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "replix_packets_sent_total",
			Help: "Packets handed to observer transports",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "replix_bytes_sent_total",
			Help: "Bytes handed to observer transports, headers included",
		}),
		entitiesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "replix_entities_sent_total",
			Help: "Entity records written to observer streams",
		}),
		entitiesDeferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "replix_entities_deferred_total",
			Help: "Queued entities left for a later tick by the budget",
		}),
		sendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "replix_send_errors_total",
			Help: "Streams that failed to reach an observer transport",
		}),
		streamsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "replix_streams_applied_total",
			Help: "Received streams decoded into sinks",
		}),
		streamsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "replix_streams_discarded_total",
			Help: "Received streams dropped as stale or malformed",
		}),
		observers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "replix_observers",
			Help: "Observers attached to the replicator",
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "replix_tick_seconds",
			Help:    "Duration of a replication tick across all observers",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}
}

func (m *Metrics) sent(packets, bytes, entities, deferred int) {
	if m == nil {
		return
	}
	m.packetsSent.Add(float64(packets))
	m.bytesSent.Add(float64(bytes))
	m.entitiesSent.Add(float64(entities))
	m.entitiesDeferred.Add(float64(deferred))
}

func (m *Metrics) sendFailed() {
	if m != nil {
		m.sendErrors.Inc()
	}
}

func (m *Metrics) applied() {
	if m != nil {
		m.streamsApplied.Inc()
	}
}

func (m *Metrics) discarded() {
	if m != nil {
		m.streamsDiscarded.Inc()
	}
}

func (m *Metrics) setObservers(n int) {
	if m != nil {
		m.observers.Set(float64(n))
	}
}

func (m *Metrics) observeTick(d time.Duration) {
	if m != nil {
		m.tickDuration.Observe(d.Seconds())
	}
}

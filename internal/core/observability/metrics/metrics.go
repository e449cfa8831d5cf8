// Package metrics exposes Prometheus collectors for the sync hub and the
// flight feed on a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yancarlos4500/sanjuan-coordination/internal/core/observability/interfaces"
)

const namespace = "sanjuan_board"

// Drop reasons.
const (
	DropMalformed   = "malformed"
	DropUnknownType = "unknown_type"
	DropStale       = "stale"
	DropUnknownItem = "unknown_item"
	DropOverflow    = "send_overflow"
	DropOversize    = "oversize"
)

type Metrics struct {
	registry *prometheus.Registry

	connectedClients prometheus.Gauge
	messagesReceived *prometheus.CounterVec
	messagesDropped  *prometheus.CounterVec
	broadcasts       *prometheus.CounterVec
	framesQueued     prometheus.Counter
	boardClock       prometheus.Gauge
	boardItems       prometheus.Gauge

	feedFetches *prometheus.CounterVec
	feedFlights prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Replicas currently connected to the hub.",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Well-formed inbound messages by type.",
		}, []string{"type"}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages ignored by the hub, by reason.",
		}, []string{"reason"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Fan-out operations by outbound message type.",
		}, []string{"type"}),
		framesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_queued_total",
			Help:      "Outbound frames queued to replicas.",
		}),
		boardClock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "board_last_updated_ms",
			Help:      "Logical clock of the authoritative board.",
		}),
		boardItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "board_items",
			Help:      "Cards on the authoritative board.",
		}),
		feedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetches_total",
			Help:      "Flight feed polls by result.",
		}, []string{"result"}),
		feedFlights: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_flights",
			Help:      "Flights in the last good feed snapshot.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectedClients,
		m.messagesReceived,
		m.messagesDropped,
		m.broadcasts,
		m.framesQueued,
		m.boardClock,
		m.boardItems,
		m.feedFetches,
		m.feedFlights,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ClientConnected()    { m.connectedClients.Inc() }
func (m *Metrics) ClientDisconnected() { m.connectedClients.Dec() }

func (m *Metrics) MessageReceived(msgType string) {
	m.messagesReceived.WithLabelValues(msgType).Inc()
}

func (m *Metrics) MessageDropped(reason string) {
	m.messagesDropped.WithLabelValues(reason).Inc()
}

// Broadcast records one fan-out of msgType to recipients replicas.
func (m *Metrics) Broadcast(msgType string, recipients int) {
	m.broadcasts.WithLabelValues(msgType).Inc()
	m.framesQueued.Add(float64(recipients))
}

// BoardChanged records the authoritative clock and size after a mutation.
func (m *Metrics) BoardChanged(lastUpdated int64, items int) {
	m.boardClock.Set(float64(lastUpdated))
	m.boardItems.Set(float64(items))
}

// FeedFetched records one poll of the flight feed.
func (m *Metrics) FeedFetched(ok bool, flights int) {
	if !ok {
		m.feedFetches.WithLabelValues("error").Inc()
		return
	}
	m.feedFetches.WithLabelValues("ok").Inc()
	m.feedFlights.Set(float64(flights))
}

var _ interfaces.Recorder = (*Metrics)(nil)

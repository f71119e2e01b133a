package observability

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors of the service.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	connections  prometheus.Gauge
	roomJoins    prometheus.Counter
	deliveries   prometheus.Counter
	drops        prometheus.Counter
	messagesSent *prometheus.CounterVec
}

// NewMetrics registers collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_http_errors_total",
			Help: "HTTP errors by route, method and domain code.",
		}, []string{"path", "method", "code"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_realtime_connections",
			Help: "Open websocket connections.",
		}),
		roomJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_realtime_room_joins_total",
			Help: "Room join requests accepted.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_realtime_deliveries_total",
			Help: "Events enqueued to room members.",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_realtime_dropped_total",
			Help: "Events dropped because a connection's send buffer was full.",
		}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Durable messages created by sender role.",
		}, []string{"role"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.latency, m.errors, m.connections,
		m.roomJoins, m.deliveries, m.drops, m.messagesSent,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// ConnectionOpened tracks a new websocket connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed tracks a closed websocket connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// RoomJoined counts accepted joins.
func (m *Metrics) RoomJoined() {
	if m == nil {
		return
	}
	m.roomJoins.Inc()
}

// Delivered counts fan-out results of one publish.
func (m *Metrics) Delivered(delivered, dropped int) {
	if m == nil {
		return
	}
	m.deliveries.Add(float64(delivered))
	m.drops.Add(float64(dropped))
}

// MessageSent counts durable messages by sender role.
func (m *Metrics) MessageSent(role string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(role).Inc()
}

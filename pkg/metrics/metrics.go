// Package metrics exposes SFU state as Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lingsfu"

type Metrics struct {
	registry *prometheus.Registry

	Rooms                *prometheus.GaugeVec
	Peers                prometheus.Gauge
	Transports           *prometheus.GaugeVec
	Producers            *prometheus.GaugeVec
	Consumers            *prometheus.GaugeVec
	Workers              *prometheus.GaugeVec
	WorkerDeaths         prometheus.Counter
	Requests             *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	NotificationsDropped prometheus.Counter
}

// New builds collectors on a private registry that also carries the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Rooms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms",
			Help: "Open rooms by hosting worker.",
		}, []string{"worker"}),
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "peers",
			Help: "Peers joined to a room.",
		}),
		Transports: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "transports",
			Help: "Open WebRTC transports by role.",
		}, []string{"role"}),
		Producers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "producers",
			Help: "Open producers by media kind.",
		}, []string{"kind"}),
		Consumers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "consumers",
			Help: "Open consumers by media kind.",
		}, []string{"kind"}),
		Workers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "workers",
			Help: "Media engine workers by state.",
		}, []string{"state"}),
		WorkerDeaths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "worker_deaths_total",
			Help: "Media engine workers that exited unexpectedly.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signaling_requests_total",
			Help: "Signaling requests by method and result kind.",
		}, []string{"method", "result"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "signaling_request_duration_seconds",
			Help:    "Signaling request handling latency.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_dropped_total",
			Help: "Notifications discarded because a peer send queue was full.",
		}),
	}
	m.registry.MustRegister(
		m.Rooms, m.Peers, m.Transports, m.Producers, m.Consumers, m.Workers,
		m.WorkerDeaths, m.Requests, m.RequestDuration, m.NotificationsDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the private registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RoomStarted(workerID string) {
	if m != nil {
		m.Rooms.WithLabelValues(workerID).Inc()
	}
}

func (m *Metrics) RoomEnded(workerID string) {
	if m != nil {
		m.Rooms.WithLabelValues(workerID).Dec()
	}
}

func (m *Metrics) PeerJoined() {
	if m != nil {
		m.Peers.Inc()
	}
}

func (m *Metrics) PeerLeft() {
	if m != nil {
		m.Peers.Dec()
	}
}

func (m *Metrics) TransportOpened(role string) {
	if m != nil {
		m.Transports.WithLabelValues(role).Inc()
	}
}

func (m *Metrics) TransportClosed(role string) {
	if m != nil {
		m.Transports.WithLabelValues(role).Dec()
	}
}

func (m *Metrics) ProducerOpened(kind string) {
	if m != nil {
		m.Producers.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ProducerClosed(kind string) {
	if m != nil {
		m.Producers.WithLabelValues(kind).Dec()
	}
}

func (m *Metrics) ConsumerOpened(kind string) {
	if m != nil {
		m.Consumers.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ConsumerClosed(kind string) {
	if m != nil {
		m.Consumers.WithLabelValues(kind).Dec()
	}
}

func (m *Metrics) SetWorkers(alive, dead int) {
	if m != nil {
		m.Workers.WithLabelValues("alive").Set(float64(alive))
		m.Workers.WithLabelValues("dead").Set(float64(dead))
	}
}

func (m *Metrics) WorkerDied() {
	if m != nil {
		m.WorkerDeaths.Inc()
	}
}

// ObserveRequest records one handled request; result is "ok" or an error kind
func (m *Metrics) ObserveRequest(method, result string, took time.Duration) {
	if m != nil {
		m.Requests.WithLabelValues(method, result).Inc()
		m.RequestDuration.WithLabelValues(method).Observe(took.Seconds())
	}
}

func (m *Metrics) NotificationDropped() {
	if m != nil {
		m.NotificationsDropped.Inc()
	}
}

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry       *prometheus.Registry
	writesTotal    *prometheus.CounterVec
	replaysTotal   *prometheus.CounterVec
	authRejections prometheus.Counter
	eventsTotal    *prometheus.CounterVec
	streamClients  prometheus.Gauge
	resubscribes   prometheus.Counter
}

func newMetricsRegistry() *metricsRegistry {
	writes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "protectedpay_writes_total",
		Help: "Contract writes submitted through the API",
	}, []string{"operation", "result"})

	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "protectedpay_idempotent_hits_total",
		Help: "Requests answered from the idempotency store",
	}, []string{"result"})

	rejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "protectedpay_auth_rejections_total",
		Help: "Requests rejected by HMAC verification",
	})

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "protectedpay_events_total",
		Help: "Contract events broadcast to stream clients",
	}, []string{"type"})

	clients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "protectedpay_event_stream_clients",
		Help: "Connected event stream clients",
	})

	resubscribes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "protectedpay_event_resubscribes_total",
		Help: "Event subscriptions reopened after the previous one ended",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(writes, replays, rejections, events, clients, resubscribes)

	return &metricsRegistry{
		registry:       r,
		writesTotal:    writes,
		replaysTotal:   replays,
		authRejections: rejections,
		eventsTotal:    events,
		streamClients:  clients,
		resubscribes:   resubscribes,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incWrite(operation, result string) {
	m.writesTotal.WithLabelValues(operation, result).Inc()
}

func (m *metricsRegistry) incReplay(result string) {
	m.replaysTotal.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) incAuthRejection() {
	m.authRejections.Inc()
}

func (m *metricsRegistry) incEvent(eventType string) {
	m.eventsTotal.WithLabelValues(eventType).Inc()
}

func (m *metricsRegistry) setStreamClients(n int) {
	m.streamClients.Set(float64(n))
}

func (m *metricsRegistry) incResubscribe() {
	m.resubscribes.Inc()
}

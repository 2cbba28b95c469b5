package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "framecast"

// Authorization outcomes recorded by [Metrics.AuthDecision].
const (
	AuthAllow = "allow"
	AuthDeny  = "deny"
	AuthError = "error"
)

// Metrics holds the Prometheus collectors for the server. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	authDecisions     *prometheus.CounterVec
	guestRotations    prometheus.Counter
	credentialReloads *prometheus.CounterVec
	framesPublished   prometheus.Counter
	subscribers       prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry, alongside the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_decisions_total",
			Help:      "Total number of authorization decisions by result",
		}, []string{"result"}),
		guestRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guest_rotations_total",
			Help:      "Total number of guest passwords minted",
		}),
		credentialReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_reloads_total",
			Help:      "Total number of credential file reloads by result",
		}, []string{"result"}),
		framesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_published_total",
			Help:      "Total number of frames published to the stream",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Number of stream consumers currently connected",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authDecisions,
		m.guestRotations,
		m.credentialReloads,
		m.framesPublished,
		m.subscribers,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// AuthDecision records an authorization outcome.
func (m *Metrics) AuthDecision(result string) {
	if m == nil {
		return
	}
	m.authDecisions.WithLabelValues(result).Inc()
}

// GuestRotated records a newly minted guest password.
func (m *Metrics) GuestRotated() {
	if m == nil {
		return
	}
	m.guestRotations.Inc()
}

// CredentialReload records the result of a credential file reload.
func (m *Metrics) CredentialReload(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.credentialReloads.WithLabelValues(result).Inc()
}

// FramePublished records a frame written to the slot.
func (m *Metrics) FramePublished() {
	if m == nil {
		return
	}
	m.framesPublished.Inc()
}

// SubscriberAdded records a stream consumer connecting.
func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

// SubscriberRemoved records a stream consumer disconnecting.
func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

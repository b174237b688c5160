// Package metrics exposes the service's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cryptolock"

// Flow labels
const (
	FlowLogin  = "login"
	FlowSignup = "signup"
)

// NetworkUnknown labels attempts whose network is not served
const NetworkUnknown = "unknown"

// Outcome labels
const (
	OutcomeSuccess     = "success"
	OutcomeMalformed   = "malformed"
	OutcomeExpired     = "expired"
	OutcomeUnsupported = "unsupported"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Metrics holds every collector the service updates
type Metrics struct {
	registry *prometheus.Registry

	ChallengesIssued  prometheus.Counter
	ChallengesSwept   prometheus.Counter
	Redemptions       *prometheus.CounterVec
	VerifyDuration    *prometheus.HistogramVec
	SessionsRefreshed prometheus.Counter
}

// New creates the collectors on a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ChallengesIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "challenge",
			Name:      "issued_total",
			Help:      "Challenges issued",
		}),
		ChallengesSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "challenge",
			Name:      "swept_total",
			Help:      "Expired challenges removed by cleanup",
		}),
		Redemptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "redemptions_total",
			Help:      "Challenge redemption attempts by flow, network and outcome",
		}, []string{"flow", "network", "outcome"}),
		VerifyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "verifier",
			Name:      "duration_seconds",
			Help:      "Signature verification latency by network",
			Buckets:   prometheus.DefBuckets,
		}, []string{"network"}),
		SessionsRefreshed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "refreshed_total",
			Help:      "Refresh token rotations",
		}),
	}
}

// ObserveRedemption counts one redemption attempt. An empty network is
// recorded as NetworkUnknown.
func (m *Metrics) ObserveRedemption(flow, network, outcome string) {
	if m == nil {
		return
	}
	if network == "" {
		network = NetworkUnknown
	}
	m.Redemptions.WithLabelValues(flow, network, outcome).Inc()
}

// ObserveVerify records how long a verifier call took
func (m *Metrics) ObserveVerify(network string, d time.Duration) {
	if m == nil {
		return
	}
	m.VerifyDuration.WithLabelValues(network).Observe(d.Seconds())
}

// ChallengeIssued counts one issued challenge
func (m *Metrics) ChallengeIssued() {
	if m == nil {
		return
	}
	m.ChallengesIssued.Inc()
}

// Swept counts removed challenges
func (m *Metrics) Swept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ChallengesSwept.Add(float64(n))
}

// SessionRefreshed counts one refresh rotation
func (m *Metrics) SessionRefreshed() {
	if m == nil {
		return
	}
	m.SessionsRefreshed.Inc()
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Package metrics exposes vault activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cvault"

// Claim outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Revocation kinds.
const (
	RevokeSingle     = "single"
	RevokeKillSwitch = "kill_switch"
)

// Recorder owns the vault collectors. A nil *Recorder is valid and records
// nothing, so services can run without metrics in tests and one-shot commands.
type Recorder struct {
	grants               prometheus.Counter
	claims               *prometheus.CounterVec
	revocations          *prometheus.CounterVec
	auditEvents          *prometheus.CounterVec
	notificationsDropped prometheus.Counter
	deviceBlocks         prometheus.Counter
	claimDuration        prometheus.Histogram
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New creates a Recorder and registers its collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		grants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_total",
			Help:      "Access tokens issued.",
		}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claim attempts by outcome.",
		}, []string{"outcome"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Tokens revoked, by revocation path.",
		}, []string{"kind"}),
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Audit events appended, by action.",
		}, []string{"action"}),
		notificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because the queue was full or delivery failed.",
		}),
		deviceBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_blocks_total",
			Help:      "Claims rejected because the device is blocked.",
		}),
		claimDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "claim_duration_seconds",
			Help:      "Time spent serving a claim.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		r.grants,
		r.claims,
		r.revocations,
		r.auditEvents,
		r.notificationsDropped,
		r.deviceBlocks,
		r.claimDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (r *Recorder) GrantIssued() {
	if r == nil {
		return
	}
	r.grants.Inc()
}

// ClaimFinished records the outcome and latency of one claim.
func (r *Recorder) ClaimFinished(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.claims.WithLabelValues(outcome).Inc()
	r.claimDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) Revoked(kind string, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.revocations.WithLabelValues(kind).Add(float64(count))
}

func (r *Recorder) AuditAppended(action string) {
	if r == nil {
		return
	}
	r.auditEvents.WithLabelValues(action).Inc()
}

func (r *Recorder) NotificationDropped() {
	if r == nil {
		return
	}
	r.notificationsDropped.Inc()
}

func (r *Recorder) DeviceBlocked() {
	if r == nil {
		return
	}
	r.deviceBlocks.Inc()
}

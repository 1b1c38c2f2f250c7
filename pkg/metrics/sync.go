package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Notification outcomes.
const (
	NotificationSent         = "sent"
	NotificationFailed       = "failed"
	NotificationInvalidToken = "invalid_token"
	NotificationNoTokens     = "no_tokens"
)

// Propagation outcomes.
const (
	PropagationPushed  = "pushed"
	PropagationSkipped = "skipped"
	PropagationFailed  = "failed"
)

// SyncMetrics tracks the pickup reconciliation cycle and its side effects.
type SyncMetrics struct {
	fetched           prometheus.Counter
	assigned          prometheus.Counter
	unmatched         prometheus.Counter
	malformed         prometheus.Counter
	conflicts         prometheus.Counter
	deleted           *prometheus.CounterVec
	credentialFailure prometheus.Counter
	notifications     *prometheus.CounterVec
	propagations      *prometheus.CounterVec
	lastSuccess       prometheus.Gauge
}

// NewSyncMetrics registers the sync metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	m := &SyncMetrics{
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "items_fetched_total",
			Help: "Feed items received from the order platform.",
		}),
		assigned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "pickups_assigned_total",
			Help: "Pickups created and assigned to a collector.",
		}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "items_unmatched_total",
			Help: "Today's new feed items no collector covers.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "items_malformed_total",
			Help: "Feed records skipped because they could not be decoded.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "insert_conflicts_total",
			Help: "Inserts skipped because the pickup already existed.",
		}),
		deleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "pickups_deleted_total",
			Help: "Pickups removed by the retention sweep.",
		}, []string{"status"}),
		credentialFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "credential_failures_total",
			Help: "Principals skipped because no valid token could be obtained.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify",
			Name: "push_total",
			Help: "Push notification attempts by outcome.",
		}, []string{"outcome"}),
		propagations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "propagate",
			Name: "status_total",
			Help: "Upstream status propagation attempts by outcome.",
		}, []string{"outcome"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "last_success_timestamp_seconds",
			Help: "Unix time of the last cycle that finished without errors.",
		}),
	}
	reg.MustRegister(m.fetched, m.assigned, m.unmatched, m.malformed, m.conflicts, m.deleted,
		m.credentialFailure, m.notifications, m.propagations, m.lastSuccess)
	return m
}

func (m *SyncMetrics) AddFetched(n int) {
	if m == nil || m.fetched == nil || n <= 0 {
		return
	}
	m.fetched.Add(float64(n))
}

func (m *SyncMetrics) AddAssigned(n int) {
	if m == nil || m.assigned == nil || n <= 0 {
		return
	}
	m.assigned.Add(float64(n))
}

func (m *SyncMetrics) AddUnmatched(n int) {
	if m == nil || m.unmatched == nil || n <= 0 {
		return
	}
	m.unmatched.Add(float64(n))
}

func (m *SyncMetrics) IncMalformed() {
	if m == nil || m.malformed == nil {
		return
	}
	m.malformed.Inc()
}

func (m *SyncMetrics) IncConflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *SyncMetrics) AddDeleted(status string, n int64) {
	if m == nil || m.deleted == nil || n <= 0 {
		return
	}
	m.deleted.WithLabelValues(normalizeLabel(status)).Add(float64(n))
}

func (m *SyncMetrics) IncCredentialFailure() {
	if m == nil || m.credentialFailure == nil {
		return
	}
	m.credentialFailure.Inc()
}

func (m *SyncMetrics) IncNotification(outcome string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *SyncMetrics) IncPropagation(outcome string) {
	if m == nil || m.propagations == nil {
		return
	}
	m.propagations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// MarkSuccess records the completion time of a clean cycle.
func (m *SyncMetrics) MarkSuccess(at time.Time) {
	if m == nil || m.lastSuccess == nil {
		return
	}
	m.lastSuccess.Set(float64(at.Unix()))
}

// Package metrics defines the Prometheus collectors for membership, chat and
// locking. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "yolo"

// Outcome labels.
const (
	OK    = "ok"
	Error = "error"
)

type Metrics struct {
	MembershipOps *prometheus.CounterVec
	ChatAppends   *prometheus.CounterVec
	LockWait      *prometheus.HistogramVec
	CASConflicts  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MembershipOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_operations_total",
			Help:      "Membership and friend request operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		ChatAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_appends_total",
			Help:      "Chat message appends by outcome.",
		}, []string{"outcome"}),
		LockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a per-key lock.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"entity"}),
		CASConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cas_conflicts_total",
			Help:      "Version conflicts detected on conditional updates.",
		}, []string{"entity"}),
	}
	reg.MustRegister(m.MembershipOps, m.ChatAppends, m.LockWait, m.CASConflicts)
	return m
}

func outcome(err error) string {
	if err != nil {
		return Error
	}
	return OK
}

func (m *Metrics) ObserveMembership(op string, err error) {
	if m == nil {
		return
	}
	m.MembershipOps.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) ObserveAppend(err error) {
	if m == nil {
		return
	}
	m.ChatAppends.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) ObserveLockWait(entity string, started time.Time) {
	if m == nil {
		return
	}
	m.LockWait.WithLabelValues(entity).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveConflict(entity string) {
	if m == nil {
		return
	}
	m.CASConflicts.WithLabelValues(entity).Inc()
}

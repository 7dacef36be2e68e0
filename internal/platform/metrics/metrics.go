// Package metrics registers the Prometheus instruments for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	InvitationsCreated   prometheus.Counter
	InvitationsRevoked   prometheus.Counter
	InvitationsRedeemed  prometheus.Counter
	VerificationFailures prometheus.Counter
	LockoutsTriggered    prometheus.Counter
	DebtorsRegistered    prometheus.Counter
	GrantConsumeDuration prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		InvitationsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "debtgate_invitations_created_total",
			Help: "Total number of invitation tokens issued",
		}),
		InvitationsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "debtgate_invitations_revoked_total",
			Help: "Total number of invitations revoked by staff",
		}),
		InvitationsRedeemed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "debtgate_invitations_redeemed_total",
			Help: "Total number of successful invitation redemptions",
		}),
		VerificationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "debtgate_verification_failures_total",
			Help: "Total number of failed identity verification attempts",
		}),
		LockoutsTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "debtgate_verification_lockouts_total",
			Help: "Total number of verification lockouts applied",
		}),
		DebtorsRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "debtgate_debtors_registered_total",
			Help: "Total number of debtor accounts provisioned",
		}),
		GrantConsumeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "debtgate_grant_consume_duration_ms",
			Help:    "Latency of verification grant consumption in milliseconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		}),
	}
}

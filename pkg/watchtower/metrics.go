package watchtower

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	approvalsObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossgate_watchtower_approvals_observed_total",
			Help: "Total number of withdraw approvals observed, by destination chain",
		}, []string{"chain"})
	approvalsDeduped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crossgate_watchtower_approvals_deduped_total",
			Help: "Total number of approvals dropped because the digest was already in flight",
		})
	approvalsVerified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossgate_watchtower_approvals_verified_total",
			Help: "Total number of approvals verified against the source deposit log",
		}, []string{"chain"})
	approvalsCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossgate_watchtower_approvals_cancelled_total",
			Help: "Total number of approvals cancelled inside the window",
		}, []string{"chain"})
	approvalsExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossgate_watchtower_approvals_expired_total",
			Help: "Total number of approvals observed only after their window had closed",
		}, []string{"chain"})
	sourceReadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossgate_watchtower_source_read_errors_total",
			Help: "Total number of failed deposit-log reads, by source chain",
		}, []string{"chain"})
	securityIncidents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossgate_watchtower_security_incidents_total",
			Help: "Total number of unverified approvals that could not be cancelled in time",
		}, []string{"chain"})
)

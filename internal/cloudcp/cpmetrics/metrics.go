package cpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TenantsByStatus tracks the number of tenants in each lifecycle status.
	TenantsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "clubcloud",
		Subsystem: "cp",
		Name:      "tenants_by_status",
		Help:      "Number of tenants by lifecycle status.",
	}, []string{"status"})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clubcloud",
		Subsystem: "cp",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "clubcloud",
		Subsystem: "cp",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// SignupStepsTotal counts signup steps by step and outcome.
	SignupStepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clubcloud",
		Subsystem: "cp",
		Name:      "signup_steps_total",
		Help:      "Total signup steps by step and outcome.",
	}, []string{"step", "outcome"})

	// ActivationsTotal counts activation attempts by trigger source and outcome.
	ActivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clubcloud",
		Subsystem: "cp",
		Name:      "activations_total",
		Help:      "Total tenant activation attempts by source and outcome.",
	}, []string{"source", "outcome"})

	// ReconcilePollsTotal counts polling reconciliations by outcome.
	ReconcilePollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clubcloud",
		Subsystem: "cp",
		Name:      "reconcile_polls_total",
		Help:      "Total billing reconciliation polls by outcome.",
	}, []string{"outcome"})

	// DirectoryCompensationsTotal counts directory entries removed after a
	// failed registry write.
	DirectoryCompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clubcloud",
		Subsystem: "cp",
		Name:      "directory_compensations_total",
		Help:      "Directory rollbacks after failed tenant creation, by outcome.",
	}, []string{"outcome"})

	// DirectoryOrphans reports directory entries with no registry tenant at the last sweep.
	DirectoryOrphans = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clubcloud",
		Subsystem: "cp",
		Name:      "directory_orphans",
		Help:      "Directory entries without a matching tenant at the last sweep.",
	})

	// RouteCheckResults counts route monitor outcomes per tenant check.
	RouteCheckResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clubcloud",
		Subsystem: "cp",
		Name:      "route_checks_total",
		Help:      "Tenant subdomain route checks by result.",
	}, []string{"result"})

	// UnroutedTenants reports live tenants whose subdomain did not resolve to them at the last check.
	UnroutedTenants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clubcloud",
		Subsystem: "cp",
		Name:      "unrouted_tenants",
		Help:      "Live tenants without a matching directory entry at the last check.",
	})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_cycles_total",
		Help: "Total number of scheduled cycles run, labelled by job and status.",
	}, []string{"job", "status"})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowsentry_cycle_duration_seconds",
		Help:    "End-to-end duration of a scheduled cycle for one tenant.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"job"})

	RiskEventsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_risk_events_total",
		Help: "Total number of risk events persisted, labelled by signal kind.",
	}, []string{"kind"})

	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_task_transitions_total",
		Help: "Total number of action task state transitions, labelled by target state.",
	}, []string{"to"})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_deliveries_total",
		Help: "Total number of outbound delivery attempts, labelled by status.",
	}, []string{"status"})

	ProposalsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowsentry_proposals_deduplicated_total",
		Help: "Total number of action proposals suppressed because an open task already existed.",
	})

	TenantsScheduled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowsentry_tenants_scheduled",
		Help: "Number of active tenants considered by the last scheduler tick.",
	})
)

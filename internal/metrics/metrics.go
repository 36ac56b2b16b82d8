// Package metrics exposes the prometheus collectors the scheduler and IPC
// layers update: rules matched, actions dispatched per deliverer type, IPC
// round-trip latency, and how many mctx instances are currently BLOCKED.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RulesMatched counts matched rules, labeled by account.
	RulesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filterd",
		Subsystem: "evalctx",
		Name:      "rules_matched_total",
		Help:      "Number of rule matches produced by step_match, by account.",
	}, []string{"account"})

	// ActionsDispatched counts delivery-queue items run, labeled by
	// deliverer type (inchild/asuser/wrback) and outcome.
	ActionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filterd",
		Subsystem: "evalctx",
		Name:      "actions_dispatched_total",
		Help:      "Number of delivery-queue items run, by deliverer type and result.",
	}, []string{"type", "result"})

	// IPCRoundTrip observes the latency of one ACTION/DONE round trip.
	IPCRoundTrip = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "filterd",
		Subsystem: "ipc",
		Name:      "round_trip_seconds",
		Help:      "Latency between sending an ACTION request and receiving its DONE reply.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	// BlockedContexts is the current number of mctx instances parked
	// awaiting a DONE reply (spec.md §5 "BLOCKED").
	BlockedContexts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "filterd",
		Subsystem: "scheduler",
		Name:      "blocked_contexts",
		Help:      "Number of match/deliver contexts currently suspended on an IPC reply.",
	})

	// ErrorsTotal counts ERROR transitions, labeled by the kind from
	// spec.md §7 (matcher_error, deliverer_error, protocol_violation,
	// config_error).
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "filterd",
		Subsystem: "evalctx",
		Name:      "errors_total",
		Help:      "Number of ERROR transitions, by error kind.",
	}, []string{"kind"})
)

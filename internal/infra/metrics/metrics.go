// Package metrics provides the gateway's Prometheus instrumentation:
// counters and histograms for ingest, rule evaluation, notifications,
// HVAC calls, and harvested external context.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Ingest ─────────────────────────────────────────────────────────────

// ReadingsIngested tracks accepted sensor readings by sensor id.
var ReadingsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "readings_ingested_total",
	Help:      "Total sensor readings accepted by the ingest pipeline.",
}, []string{"sensor_id"})

// ReadingsRejected tracks readings rejected by validation, by reason.
var ReadingsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "readings_rejected_total",
	Help:      "Total sensor readings rejected during ingest.",
}, []string{"reason"})

// IngestLatency tracks the time spent running a reading through the
// full ingest pipeline (cache, analytics, drift, rules, overlay).
var IngestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "gateway",
	Name:      "ingest_latency_seconds",
	Help:      "Time spent processing one ingested reading.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
})

// ─── Rules ──────────────────────────────────────────────────────────────

// RuleFirings tracks rule evaluations that crossed their threshold.
var RuleFirings = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "rule_firings_total",
	Help:      "Total rule firings by rule id and severity.",
}, []string{"rule_id", "severity"})

// ─── Notifications ──────────────────────────────────────────────────────

// NotificationsSent tracks dispatched notifications by channel and outcome.
var NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "notifications_sent_total",
	Help:      "Total notification dispatch attempts by channel and outcome.",
}, []string{"channel", "outcome"})

// NotificationsSuppressed tracks alerts dropped by the cooldown ledger.
var NotificationsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "notifications_suppressed_total",
	Help:      "Total alerts suppressed by the cooldown ledger.",
})

// EscalationsFired tracks escalation-tier re-notifications.
var EscalationsFired = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "escalations_fired_total",
	Help:      "Total escalation re-notifications by tier.",
}, []string{"tier"})

// ─── HVAC ───────────────────────────────────────────────────────────────

// HVACCalls tracks vendor HVAC API calls by zone and outcome.
var HVACCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "hvac_calls_total",
	Help:      "Total HVAC vendor API calls by zone and outcome.",
}, []string{"zone", "outcome"})

// HVACBreakerState tracks the circuit breaker state per zone
// (0=closed, 1=open, 2=half-open).
var HVACBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "gateway",
	Name:      "hvac_breaker_state",
	Help:      "HVAC circuit breaker state per zone (0=closed, 1=open, 2=half-open).",
}, []string{"zone"})

// ─── Harvest ────────────────────────────────────────────────────────────

// HarvestFetches tracks external context fetches by source and outcome.
var HarvestFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "harvest_fetches_total",
	Help:      "Total external context fetches by source and outcome.",
}, []string{"source", "outcome"})

// ─── Calibration ────────────────────────────────────────────────────────

// CalibrationsDue tracks sensors currently past their calibration interval.
var CalibrationsDue = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "gateway",
	Name:      "calibrations_due",
	Help:      "Number of sensors currently past their calibration interval.",
})

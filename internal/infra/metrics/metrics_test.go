package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestIngestMetrics(t *testing.T) {
	ReadingsIngested.WithLabelValues("sensor-1").Inc()
	ReadingsRejected.WithLabelValues("validation").Inc()
	IngestLatency.Observe(0.01)

	names := gatheredNames(t)
	for _, n := range []string{
		"gateway_readings_ingested_total",
		"gateway_readings_rejected_total",
		"gateway_ingest_latency_seconds",
	} {
		if !names[n] {
			t.Errorf("metric %q not found", n)
		}
	}
}

func TestRuleFirings(t *testing.T) {
	RuleFirings.WithLabelValues("high-temp", "warning").Inc()

	if !gatheredNames(t)["gateway_rule_firings_total"] {
		t.Error("gateway_rule_firings_total not found")
	}
}

func TestNotificationMetrics(t *testing.T) {
	NotificationsSent.WithLabelValues("console", "sent").Inc()
	NotificationsSuppressed.Inc()
	EscalationsFired.WithLabelValues("critical").Inc()

	names := gatheredNames(t)
	for _, n := range []string{
		"gateway_notifications_sent_total",
		"gateway_notifications_suppressed_total",
		"gateway_escalations_fired_total",
	} {
		if !names[n] {
			t.Errorf("metric %q not found", n)
		}
	}
}

func TestHVACMetrics(t *testing.T) {
	HVACCalls.WithLabelValues("greenhouse-1", "ok").Inc()
	HVACBreakerState.WithLabelValues("greenhouse-1").Set(0)

	names := gatheredNames(t)
	if !names["gateway_hvac_calls_total"] {
		t.Error("gateway_hvac_calls_total not found")
	}
	if !names["gateway_hvac_breaker_state"] {
		t.Error("gateway_hvac_breaker_state not found")
	}
}

func TestHarvestMetrics(t *testing.T) {
	HarvestFetches.WithLabelValues("weather", "ok").Inc()

	if !gatheredNames(t)["gateway_harvest_fetches_total"] {
		t.Error("gateway_harvest_fetches_total not found")
	}
}

func TestCalibrationsDue(t *testing.T) {
	CalibrationsDue.Set(3)

	if !gatheredNames(t)["gateway_calibrations_due"] {
		t.Error("gateway_calibrations_due not found")
	}
}

func TestAllMetricsGatherable(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	gatewayMetrics := 0
	for _, f := range families {
		if len(f.GetName()) > 8 && f.GetName()[:8] == "gateway_" {
			gatewayMetrics++
		}
	}
	if gatewayMetrics < 9 {
		t.Errorf("expected at least 9 gateway_ metrics, got %d", gatewayMetrics)
	}
}

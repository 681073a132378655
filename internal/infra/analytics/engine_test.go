package analytics

import (
	"testing"
	"time"

	"github.com/hydroloop/gateway/internal/domain"
)

func reading(sensorID string, ts time.Time, fields map[string]float64) domain.Reading {
	return domain.Reading{SensorID: sensorID, Timestamp: ts, Fields: fields}
}

func TestEngine_FlatlineFlagsAfterConsecutiveIdenticalValues(t *testing.T) {
	e := New(DefaultConfig())
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	cfg := DefaultAnomalyConfigs()["temperature"]
	var feat domain.Feature
	for i := 0; i < cfg.FlatlineN; i++ {
		ts := base.Add(time.Duration(i) * 2 * time.Second)
		feat = e.Ingest("sensor-1", reading("sensor-1", ts, map[string]float64{"temperature": 21.0}))
	}

	found := false
	for _, a := range feat.Anomalies {
		if a.Field == "temperature" && a.Kind == domain.AnomalyFlatline {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a flatline anomaly after %d identical samples, got %v", cfg.FlatlineN, feat.Anomalies)
	}
}

func TestEngine_FlatlineIsIdempotentOnRepeatedIngestion(t *testing.T) {
	// Feeding the exact same value repeatedly must keep re-flagging
	// flatline on every ingest past the threshold, not just once.
	e := New(DefaultConfig())
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	cfg := DefaultAnomalyConfigs()["temperature"]

	for i := 0; i < cfg.FlatlineN; i++ {
		ts := base.Add(time.Duration(i) * 2 * time.Second)
		e.Ingest("sensor-1", reading("sensor-1", ts, map[string]float64{"temperature": 21.0}))
	}

	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(cfg.FlatlineN+i) * 2 * time.Second)
		feat := e.Ingest("sensor-1", reading("sensor-1", ts, map[string]float64{"temperature": 21.0}))
		found := false
		for _, a := range feat.Anomalies {
			if a.Field == "temperature" && a.Kind == domain.AnomalyFlatline {
				found = true
			}
		}
		if !found {
			t.Errorf("ingest %d past threshold: expected flatline to still be flagged", i)
		}
	}
}

func TestEngine_FlatlineResetsOnValueChange(t *testing.T) {
	e := New(DefaultConfig())
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	cfg := DefaultAnomalyConfigs()["temperature"]

	for i := 0; i < cfg.FlatlineN-1; i++ {
		ts := base.Add(time.Duration(i) * 2 * time.Second)
		e.Ingest("sensor-1", reading("sensor-1", ts, map[string]float64{"temperature": 21.0}))
	}

	ts := base.Add(time.Duration(cfg.FlatlineN-1) * 2 * time.Second)
	feat := e.Ingest("sensor-1", reading("sensor-1", ts, map[string]float64{"temperature": 21.3}))

	for _, a := range feat.Anomalies {
		if a.Field == "temperature" && a.Kind == domain.AnomalyFlatline {
			t.Error("value change should reset the flatline run, not flag it")
		}
	}
}

func TestEngine_VPDWithinExpectedBandForScenario(t *testing.T) {
	e := New(DefaultConfig())
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	feat := e.Ingest("sensor-1", reading("sensor-1", ts, map[string]float64{
		"temperature": 22.5,
		"humidity":    65,
	}))

	// SVP = 0.6108*exp(17.27*22.5/(22.5+237.3)) * (1-65/100) ~= 0.95 kPa.
	if feat.VPD < 0.9 || feat.VPD > 1.05 {
		t.Errorf("VPD = %.4f, want within [0.9, 1.05] for T=22.5 RH=65", feat.VPD)
	}
	if feat.VPDBand != "ok" {
		t.Errorf("VPDBand = %q, want ok (within default lettuce band 0.8-1.2)", feat.VPDBand)
	}
}

func TestEngine_VPDBandClassification(t *testing.T) {
	tests := []struct {
		name string
		temp float64
		rh   float64
		want string
	}{
		{"humid air, low VPD", 20, 95, "low"},
		{"hot dry air, high VPD", 30, 20, "high"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(DefaultConfig())
			ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
			feat := e.Ingest("sensor-1", reading("sensor-1", ts, map[string]float64{
				"temperature": tt.temp,
				"humidity":    tt.rh,
			}))
			if feat.VPDBand != tt.want {
				t.Errorf("VPDBand(T=%.0f, RH=%.0f) = %q, want %q", tt.temp, tt.rh, feat.VPDBand, tt.want)
			}
		})
	}
}

func TestEngine_SamplesReturnedInReceiveOrder(t *testing.T) {
	e := New(DefaultConfig())
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		e.Ingest("sensor-1", reading("sensor-1", ts, map[string]float64{"ph": float64(i)}))
	}

	samples := e.Samples("sensor-1", "ph")
	if len(samples) != 5 {
		t.Fatalf("Samples() len = %d, want 5", len(samples))
	}
	for i, s := range samples {
		if s.V != float64(i) {
			t.Errorf("Samples()[%d].V = %v, want %v (receive order)", i, s.V, float64(i))
		}
	}
}

func TestEngine_SuddenJumpDetected(t *testing.T) {
	e := New(DefaultConfig())
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	e.Ingest("sensor-1", reading("sensor-1", base, map[string]float64{"ph": 6.0}))
	feat := e.Ingest("sensor-1", reading("sensor-1", base.Add(2*time.Second), map[string]float64{"ph": 6.0 * 1.2}))

	found := false
	for _, a := range feat.Anomalies {
		if a.Field == "ph" && a.Kind == domain.AnomalySuddenJump {
			found = true
		}
	}
	if !found {
		t.Errorf("expected sudden_jump anomaly for a 20%% jump against a 3%% threshold, got %v", feat.Anomalies)
	}
}

func TestEngine_DLIAccumulatesAndResetsAtLocalMidnight(t *testing.T) {
	e := New(DefaultConfig())
	day1 := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	feat1 := e.Ingest("sensor-1", reading("sensor-1", day1, map[string]float64{"light_level": 20000}))
	feat2 := e.Ingest("sensor-1", reading("sensor-1", day1.Add(time.Hour), map[string]float64{"light_level": 20000}))
	if feat2.DLIAccum <= feat1.DLIAccum {
		t.Errorf("DLIAccum should grow within the same day: %v then %v", feat1.DLIAccum, feat2.DLIAccum)
	}

	day2 := time.Date(2026, 1, 2, 1, 0, 0, 0, time.UTC)
	feat3 := e.Ingest("sensor-1", reading("sensor-1", day2, map[string]float64{"light_level": 20000}))
	if feat3.DLIAccum >= feat2.DLIAccum {
		t.Errorf("DLIAccum should reset at local midnight: got %v after previous day's %v", feat3.DLIAccum, feat2.DLIAccum)
	}
}

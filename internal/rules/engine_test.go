package rules

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hydroloop/gateway/internal/domain"
)

type fakeNotifier struct {
	calls []domain.Firing
}

func (f *fakeNotifier) Notify(ctx context.Context, ruleID, ruleName string, sev domain.Severity, reason string, value, threshold float64, recommendedAction string, snapshot map[string]float64, force bool) domain.Alert {
	f.calls = append(f.calls, domain.Firing{RuleID: ruleID, Severity: sev, FieldValue: value, Threshold: threshold})
	return domain.Alert{RuleID: ruleID, Severity: sev}
}

type fakeCommands struct {
	enqueued []string
}

func (f *fakeCommands) Enqueue(deviceID, command, value string) {
	f.enqueued = append(f.enqueued, deviceID+":"+command+"="+value)
}

type fakeAC struct {
	calls int
}

func (f *fakeAC) Set(ctx context.Context, zone string, cmd domain.ACCommand, targetTemp float64) error {
	f.calls++
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeNotifier, *fakeCommands, *fakeAC) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.json")
	notifier := &fakeNotifier{}
	commands := &fakeCommands{}
	ac := &fakeAC{}
	e, err := New(path, notifier, commands, ac, log.New(os.Stderr, "", 0))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return e, notifier, commands, ac
}

func tempHighRule() domain.Rule {
	return domain.Rule{
		ID:            "temp-high",
		Name:          "temperature too high",
		Enabled:       true,
		SensorField:   "temperature",
		Condition:     domain.ConditionAbove,
		Threshold:     30.0,
		WarningMargin: 2.0,
		Action: domain.Action{
			Kind:     domain.ActionNotify,
			Severity: domain.SeverityCritical,
			Message:  "temperature critical",
		},
	}
}

func TestClassify_BandBoundary(t *testing.T) {
	r := domain.Rule{Condition: domain.ConditionAbove, Threshold: 30.0, WarningMargin: 2.0}

	tests := []struct {
		name  string
		value float64
		want  band
	}{
		{"lower edge of warning window", 28.0, bandPreventive},
		{"just under threshold", 29.9, bandPreventive},
		{"exactly at threshold", 30.0, bandNone},
		{"just over threshold", 30.0001, bandCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(r, tt.value); got != tt.want {
				t.Errorf("classify(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestClassify_BelowConditionBandBoundary(t *testing.T) {
	r := domain.Rule{Condition: domain.ConditionBelow, Threshold: 5.5, WarningMargin: 0.5}

	tests := []struct {
		name  string
		value float64
		want  band
	}{
		{"upper edge of warning window", 6.0, bandPreventive},
		{"just over threshold", 5.6, bandPreventive},
		{"exactly at threshold", 5.5, bandNone},
		{"just under threshold", 5.4999, bandCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(r, tt.value); got != tt.want {
				t.Errorf("classify(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestEngine_EvaluateFiresCriticalNotification(t *testing.T) {
	e, notifier, _, _ := newTestEngine(t)
	if err := e.Add(tempHighRule()); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	ec := domain.EvaluationContext{
		SensorID: "sensor-1",
		At:       time.Now(),
		Values:   map[string]float64{"temperature": 31.0},
	}
	firings := e.Evaluate(context.Background(), ec)

	if len(firings) != 1 {
		t.Fatalf("Evaluate() = %d firings, want 1", len(firings))
	}
	if firings[0].Preventive {
		t.Error("firing at 31.0 (above threshold) should not be Preventive")
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("notifier called %d times, want 1", len(notifier.calls))
	}
}

func TestEngine_EvaluateNoFiringAtExactThreshold(t *testing.T) {
	e, notifier, _, _ := newTestEngine(t)
	if err := e.Add(tempHighRule()); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	ec := domain.EvaluationContext{
		SensorID: "sensor-1",
		Values:   map[string]float64{"temperature": 30.0},
	}
	firings := e.Evaluate(context.Background(), ec)

	if len(firings) != 0 {
		t.Errorf("Evaluate() at exact threshold = %d firings, want 0", len(firings))
	}
	if len(notifier.calls) != 0 {
		t.Errorf("notifier called %d times, want 0", len(notifier.calls))
	}
}

func TestEngine_EvaluateDedupsActionsAcrossRules(t *testing.T) {
	e, notifier, _, _ := newTestEngine(t)
	r1 := tempHighRule()
	r2 := tempHighRule()
	r2.ID = "temp-high-duplicate"
	if err := e.Add(r1); err != nil {
		t.Fatalf("Add(r1) error: %v", err)
	}
	if err := e.Add(r2); err != nil {
		t.Fatalf("Add(r2) error: %v", err)
	}

	ec := domain.EvaluationContext{
		SensorID: "sensor-1",
		Values:   map[string]float64{"temperature": 31.0},
	}
	firings := e.Evaluate(context.Background(), ec)

	if len(firings) != 1 {
		t.Fatalf("Evaluate() with two rules sharing an action = %d firings, want 1 (deduped)", len(firings))
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("notifier called %d times, want 1", len(notifier.calls))
	}
}

func TestEngine_EvaluateExternalGateBlocksStaleContext(t *testing.T) {
	e, _, commands, _ := newTestEngine(t)
	rule := domain.Rule{
		ID:          "gate-rule",
		Name:        "gated led",
		Enabled:     true,
		SensorField: "water_level",
		Condition:   domain.ConditionBelow,
		Threshold:   10,
		ExternalGate: &domain.ExternalGate{
			Field:     "rain_probability",
			Condition: domain.ConditionBelow,
			Threshold: 0.5,
		},
		Action: domain.Action{Kind: domain.ActionArduino, Command: "led_on"},
	}
	if err := e.Add(rule); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	stale := domain.ContextSnapshot{
		TakenAt: now,
		Entries: map[string]domain.ContextEntry{
			"rain_probability": {
				Field:      "rain_probability",
				Value:      0.1,
				ValidUntil: now.Add(-time.Minute), // already expired
			},
		},
	}

	ec := domain.EvaluationContext{
		SensorID: "sensor-1",
		At:       now,
		Values:   map[string]float64{"water_level": 5},
		External: stale,
	}
	firings := e.Evaluate(context.Background(), ec)

	if len(firings) != 0 {
		t.Errorf("Evaluate() with stale external context = %d firings, want 0 (gate fails closed)", len(firings))
	}
	if len(commands.enqueued) != 0 {
		t.Errorf("commands enqueued = %v, want none", commands.enqueued)
	}
}

func TestEngine_EvaluateExternalGatePassesFreshContext(t *testing.T) {
	e, _, commands, _ := newTestEngine(t)
	rule := domain.Rule{
		ID:          "gate-rule",
		Name:        "gated led",
		Enabled:     true,
		SensorField: "water_level",
		Condition:   domain.ConditionBelow,
		Threshold:   10,
		ExternalGate: &domain.ExternalGate{
			Field:     "rain_probability",
			Condition: domain.ConditionBelow,
			Threshold: 0.5,
		},
		Action: domain.Action{Kind: domain.ActionArduino, Command: "led_on"},
	}
	if err := e.Add(rule); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fresh := domain.ContextSnapshot{
		TakenAt: now,
		Entries: map[string]domain.ContextEntry{
			"rain_probability": {
				Field:      "rain_probability",
				Value:      0.1,
				ValidUntil: now.Add(time.Hour),
			},
		},
	}

	ec := domain.EvaluationContext{
		SensorID: "sensor-1",
		At:       now,
		Values:   map[string]float64{"water_level": 5},
		External: fresh,
	}
	firings := e.Evaluate(context.Background(), ec)

	if len(firings) != 1 {
		t.Fatalf("Evaluate() with fresh, passing gate = %d firings, want 1", len(firings))
	}
	if len(commands.enqueued) != 1 || commands.enqueued[0] != "sensor-1:led=on" {
		t.Errorf("commands enqueued = %v, want [sensor-1:led=on]", commands.enqueued)
	}
}

func TestEngine_EvaluateDurationArmingDelaysFiring(t *testing.T) {
	e, notifier, _, _ := newTestEngine(t)
	rule := tempHighRule()
	rule.DurationSecs = 30
	if err := e.Add(rule); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	e.now = func() time.Time { return now }

	ec := domain.EvaluationContext{SensorID: "sensor-1", Values: map[string]float64{"temperature": 31.0}}

	firings := e.Evaluate(context.Background(), ec)
	if len(firings) != 0 {
		t.Fatalf("first evaluation above threshold fired immediately, want armed-but-not-fired")
	}

	now = start.Add(10 * time.Second)
	firings = e.Evaluate(context.Background(), ec)
	if len(firings) != 0 {
		t.Fatalf("evaluation before duration elapsed fired, want still armed")
	}

	now = start.Add(30 * time.Second)
	firings = e.Evaluate(context.Background(), ec)
	if len(firings) != 1 {
		t.Fatalf("evaluation after duration elapsed = %d firings, want 1", len(firings))
	}
	if len(notifier.calls) != 1 {
		t.Errorf("notifier called %d times, want 1", len(notifier.calls))
	}
}

func TestEngine_OverlayRulesParticipateInEvaluation(t *testing.T) {
	e, notifier, _, _ := newTestEngine(t)

	overlayRule := domain.Rule{
		ID:          "stage:crop-1:temperature_high",
		Enabled:     true,
		SensorField: "temperature",
		Condition:   domain.ConditionAbove,
		Threshold:   26,
		Action: domain.Action{
			Kind:     domain.ActionNotify,
			Severity: domain.SeverityWarning,
			Message:  "stage temperature high",
		},
	}

	ec := domain.EvaluationContext{
		SensorID: "sensor-1",
		Values:   map[string]float64{"temperature": 27},
		Overlay:  []domain.Rule{overlayRule},
	}
	firings := e.Evaluate(context.Background(), ec)

	if len(firings) != 1 {
		t.Fatalf("Evaluate() with overlay rule = %d firings, want 1", len(firings))
	}
	if !firings[0].StageScoped {
		t.Error("overlay-sourced firing should be marked StageScoped")
	}
	if len(notifier.calls) != 1 {
		t.Errorf("notifier called %d times, want 1", len(notifier.calls))
	}
}

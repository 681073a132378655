package ingest

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hydroloop/gateway/internal/domain"
	"github.com/hydroloop/gateway/internal/infra/analytics"
	"github.com/hydroloop/gateway/internal/infra/cache"
	"github.com/hydroloop/gateway/internal/infra/drift"

	"github.com/hydroloop/gateway/internal/harvest"
)

type fakeTSDB struct {
	mu     sync.Mutex
	points []domain.TSPoint
}

func (f *fakeTSDB) Write(p domain.TSPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}
func (f *fakeTSDB) Flush(ctx context.Context) error { return nil }
func (f *fakeTSDB) Close() error                    { return nil }

func (f *fakeTSDB) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

type fakeRuleEngine struct {
	mu          sync.Mutex
	evaluations []domain.EvaluationContext
	firings     []domain.Firing
	notified    []string
}

func (f *fakeRuleEngine) Evaluate(ctx context.Context, ec domain.EvaluationContext) []domain.Firing {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluations = append(f.evaluations, ec)
	return f.firings
}

func (f *fakeRuleEngine) FireNotify(ctx context.Context, ruleID, message string, sev domain.Severity, value float64, snapshot map[string]float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, ruleID)
}

type fakeOverlay struct{}

func (fakeOverlay) RulesFor(sensorID string) []domain.Rule { return nil }

func newTestOrchestrator(t *testing.T, firings []domain.Firing) (*Orchestrator, *fakeTSDB, *fakeRuleEngine) {
	t.Helper()
	tsdb := &fakeTSDB{}
	rules := &fakeRuleEngine{firings: firings}
	harvestStore := harvest.NewStore()
	o := New(2, tsdb, cache.New(time.Minute), analytics.New(analytics.DefaultConfig()), drift.New(drift.DefaultFieldConfigs()), rules, fakeOverlay{}, harvestStore, log.New(os.Stderr, "", 0))
	return o, tsdb, rules
}

func TestOrchestrator_IngestStoresAndEvaluates(t *testing.T) {
	o, tsdb, rules := newTestOrchestrator(t, nil)

	reading := domain.NewReading("sensor-1", map[string]float64{
		"temperature": 22.5,
		"humidity":    65,
	}, time.Now())

	result, err := o.Ingest(context.Background(), reading)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if !result.Stored {
		t.Error("Result.Stored = false, want true")
	}
	if tsdb.Len() != 1 {
		t.Errorf("tsdb writes = %d, want 1", tsdb.Len())
	}
	if len(rules.evaluations) != 1 {
		t.Fatalf("rule evaluations = %d, want 1", len(rules.evaluations))
	}
	ec := rules.evaluations[0]
	if ec.Values["temperature"] != 22.5 {
		t.Errorf("evaluation context temperature = %v, want 22.5", ec.Values["temperature"])
	}
}

func TestOrchestrator_IngestRejectsMissingRequiredField(t *testing.T) {
	o, _, rules := newTestOrchestrator(t, nil)

	reading := domain.NewReading("sensor-1", map[string]float64{
		"humidity": 65, // temperature missing
	}, time.Now())

	_, err := o.Ingest(context.Background(), reading)
	if err == nil {
		t.Fatal("Ingest() with missing temperature should error")
	}
	if len(rules.evaluations) != 0 {
		t.Errorf("rule evaluations = %d, want 0 (rejected before pipeline)", len(rules.evaluations))
	}
}

func TestOrchestrator_IngestReturnsTriggeredRuleIDs(t *testing.T) {
	firings := []domain.Firing{
		{RuleID: "temp-high", Severity: domain.SeverityCritical},
	}
	o, _, _ := newTestOrchestrator(t, firings)

	reading := domain.NewReading("sensor-1", map[string]float64{
		"temperature": 31,
		"humidity":    60,
	}, time.Now())

	result, err := o.Ingest(context.Background(), reading)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if len(result.TriggeredRuleIDs) != 1 || result.TriggeredRuleIDs[0] != "temp-high" {
		t.Errorf("TriggeredRuleIDs = %v, want [temp-high]", result.TriggeredRuleIDs)
	}
}

func TestOrchestrator_IngestConcurrentSameSensorAllEvaluated(t *testing.T) {
	o, _, rules := newTestOrchestrator(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reading := domain.NewReading("sensor-1", map[string]float64{
				"temperature": float64(i),
				"humidity":    50,
			}, time.Now())
			if _, err := o.Ingest(ctx, reading); err != nil {
				t.Errorf("Ingest() error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if len(rules.evaluations) != 20 {
		t.Fatalf("rule evaluations = %d, want 20", len(rules.evaluations))
	}
}

func TestOrchestrator_IngestFiresAnomalyNotifications(t *testing.T) {
	o, _, rules := newTestOrchestrator(t, nil)
	ctx := context.Background()

	cfg := analytics.DefaultAnomalyConfigs()["ph"]
	base := time.Now()
	for i := 0; i < cfg.FlatlineN+1; i++ {
		reading := domain.NewReading("sensor-1", map[string]float64{
			"temperature": 22,
			"humidity":    60,
			"ph":          6.0,
		}, base.Add(time.Duration(i)*time.Minute))
		if _, err := o.Ingest(ctx, reading); err != nil {
			t.Fatalf("Ingest() error: %v", err)
		}
	}

	if len(rules.notified) == 0 {
		t.Error("expected at least one FireNotify call for the flatline anomaly")
	}
}

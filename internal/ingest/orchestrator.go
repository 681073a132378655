// Package ingest implements the request-level pipeline coordinating
// every other component for one reading (C14). Per-sensor serialization
// uses a hashed-worker-channel pool so readings from the same sensor_id
// are processed strictly in arrival order while different sensors run
// fully in parallel — the same fnv-hash-to-worker-index sharding the
// reference engine pool uses to pin a model's requests to one
// subprocess.
package ingest

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"time"

	"github.com/hydroloop/gateway/internal/domain"
	"github.com/hydroloop/gateway/internal/harvest"
	"github.com/hydroloop/gateway/internal/infra/analytics"
	"github.com/hydroloop/gateway/internal/infra/cache"
	"github.com/hydroloop/gateway/internal/infra/drift"
	"github.com/hydroloop/gateway/internal/infra/metrics"
)

// Result is the ingest contract's response shape.
type Result struct {
	Stored           bool     `json:"stored"`
	TriggeredRuleIDs []string `json:"triggered_rule_ids"`
}

// RuleEngine is the narrow interface the orchestrator needs from C9.
type RuleEngine interface {
	Evaluate(ctx context.Context, ec domain.EvaluationContext) []domain.Firing
	FireNotify(ctx context.Context, ruleID, message string, sev domain.Severity, value float64, snapshot map[string]float64)
}

// Overlay is the narrow interface the orchestrator needs from C10.
type Overlay interface {
	RulesFor(sensorID string) []domain.Rule
}

// DriftPairs maps a base field name to its secondary twin, for fields the
// deployment has dual sensors on. Only fields present in this map are
// drift-checked.
var DriftPairs = map[string]string{
	"temperature": "temperature_secondary",
	"humidity":    "humidity_secondary",
	"ph":          "ph_secondary",
	"ec":          "ec_secondary",
	"water_level": "water_level_secondary",
	"water_temp":  "water_temp_secondary",
	"light_level": "light_level_secondary",
}

type job struct {
	ctx      context.Context
	reading  domain.Reading
	resultCh chan Result
}

// Orchestrator wires C1, C3, C7, C8, C9, C10, C13 together into the
// per-reading pipeline.
type Orchestrator struct {
	workers  []chan job
	numWorkers int

	tsdb      domain.TimeSeriesWriter
	cacheS    *cache.Cache
	analytics *analytics.Engine
	drift     *drift.Detector
	rules     RuleEngine
	overlay   Overlay
	harvest   *harvest.Store
	logger    *log.Logger
}

// New creates an orchestrator with numWorkers hashed ingest workers.
func New(numWorkers int, tsdb domain.TimeSeriesWriter, cacheS *cache.Cache, analyticsEngine *analytics.Engine, driftDetector *drift.Detector, ruleEngine RuleEngine, overlay Overlay, harvestStore *harvest.Store, logger *log.Logger) *Orchestrator {
	if numWorkers <= 0 {
		numWorkers = 8
	}
	o := &Orchestrator{
		workers:       make([]chan job, numWorkers),
		numWorkers:    numWorkers,
		tsdb:          tsdb,
		cacheS:        cacheS,
		analytics:     analyticsEngine,
		drift:         driftDetector,
		rules:         ruleEngine,
		overlay:       overlay,
		harvest:       harvestStore,
		logger:        logger,
	}
	for i := range o.workers {
		o.workers[i] = make(chan job, 64)
		go o.runWorker(o.workers[i])
	}
	return o
}

func (o *Orchestrator) runWorker(ch chan job) {
	for j := range ch {
		j.resultCh <- o.process(j.ctx, j.reading)
	}
}

func workerIndex(sensorID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(sensorID))
	return int(h.Sum32()) % n
}

// Ingest validates reading, drops non-finite fields, then pins
// processing to the worker owning reading.SensorID and waits for the
// pipeline to complete. The HTTP layer may reply success even if
// downstream batch writers are still draining — this call only blocks
// on the synchronous steps (cache, analytics, drift, rule engine).
func (o *Orchestrator) Ingest(ctx context.Context, reading domain.Reading) (Result, error) {
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now()
	}
	if dropped := reading.DropNonFinite(); len(dropped) > 0 {
		o.logger.Printf("ingest: dropped non-finite fields %v for sensor %s", dropped, reading.SensorID)
	}
	if err := reading.Validate(); err != nil {
		metrics.ReadingsRejected.WithLabelValues(kindOf(err)).Inc()
		return Result{}, err
	}
	metrics.ReadingsIngested.WithLabelValues(reading.SensorID).Inc()

	idx := workerIndex(reading.SensorID, o.numWorkers)
	resultCh := make(chan Result, 1)
	select {
	case o.workers[idx] <- job{ctx: ctx, reading: reading, resultCh: resultCh}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case r := <-resultCh:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (o *Orchestrator) process(ctx context.Context, reading domain.Reading) Result {
	start := time.Now()
	defer func() { metrics.IngestLatency.Observe(time.Since(start).Seconds()) }()

	o.tsdb.Write(domain.TSPoint{
		Measurement: "sensor_reading",
		Tags:        map[string]string{"sensor_id": reading.SensorID},
		Fields:      reading.Snapshot(),
		At:          reading.Timestamp,
	})
	o.cacheS.Put(reading)

	feat := o.analytics.Ingest(reading.SensorID, reading)

	for base, secondary := range DriftPairs {
		pv, pok := reading.Fields[base]
		sv, sok := reading.Fields[secondary]
		if !pok || !sok {
			continue
		}
		res := o.drift.Update(reading.SensorID, base, pv, sv)
		if res.Fired {
			o.rules.FireNotify(ctx, res.RuleID(), res.AlertMessage(reading.SensorID), domain.SeverityWarning, pv, reading.Snapshot())
		}
	}

	_, hasLight := reading.Fields["light_level"]

	values := reading.Snapshot()
	mergeFeature(values, feat, hasLight)

	ec := domain.EvaluationContext{
		SensorID: reading.SensorID,
		At:       reading.Timestamp,
		Values:   values,
		External:  o.harvest.Snapshot(reading.Timestamp),
		Overlay:   o.overlay.RulesFor(reading.SensorID),
	}
	firings := o.rules.Evaluate(ctx, ec)

	ids := make([]string, 0, len(firings)+len(feat.Anomalies))
	for _, f := range firings {
		ids = append(ids, f.RuleID)
		metrics.RuleFirings.WithLabelValues(f.RuleID, string(f.Severity)).Inc()
	}

	// Anomaly -> alert: the source repository detects anomalies but never
	// forwards them; this loop must close it (per design notes).
	for _, a := range feat.Anomalies {
		o.rules.FireNotify(ctx, a.RuleID(), a.Detail, a.Severity(), values[a.Field], values)
		ids = append(ids, a.RuleID())
	}

	return Result{Stored: true, TriggeredRuleIDs: ids}
}

// kindOf renders a rejection reason label for the readings_rejected_total
// metric, falling back to "unknown" for errors outside the taxonomy.
func kindOf(err error) string {
	var te *domain.TaxonomyError
	if errors.As(err, &te) {
		return te.Kind.String()
	}
	return "unknown"
}

// mergeFeature folds derived metrics into the evaluation context's value
// map. It gates each metric on the signal the analytics engine sets
// alongside it (VPDBand, Trend, hasLight) rather than on the metric's own
// value being non-zero, since a legitimately zero VPD (RH=100%) or moving
// average (a run of 0.0 readings) must still reach rules that watch it.
func mergeFeature(values map[string]float64, f domain.Feature, hasLight bool) {
	if f.VPDBand != "" {
		values["vpd"] = f.VPD
	}
	if hasLight {
		values["dli_accum"] = f.DLIAccum
	}
	if f.Trend != "" {
		values["ma10"] = f.MA10
		values["ma30"] = f.MA30
		values["ma60"] = f.MA60
	}
}

// Package drift implements the dual-sensor divergence detector (C8).
//
// Each (primary, secondary) sensor pair is tracked with a running
// mean/stddev of their delta, using the same Welford's-online-algorithm
// shape as the reference anomaly detector's node profiles, applied here
// to a sensor pair instead of a node.
package drift

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hydroloop/gateway/internal/infra/ring"
)

// SensorClass sets the divergence threshold band for a field.
type SensorClass string

const (
	ClassGood   SensorClass = "good"   // +/- 1%
	ClassMedium SensorClass = "medium" // +/- 2%
	ClassCheap  SensorClass = "cheap"  // +/- 3%
)

// ClassThresholdPct returns the class's allowed divergence fraction.
func ClassThresholdPct(c SensorClass) float64 {
	switch c {
	case ClassGood:
		return 0.01
	case ClassMedium:
		return 0.02
	case ClassCheap:
		return 0.03
	default:
		return 0.02
	}
}

// FieldConfig configures drift detection for one base field.
type FieldConfig struct {
	Class         SensorClass
	ScaleForPct   float64 // reference magnitude used to turn a % threshold into absolute delta
	CooldownSecs  float64 // default 6h = 21600
}

// DefaultFieldConfigs are reasonable per-field defaults; callers override
// via Config.
func DefaultFieldConfigs() map[string]FieldConfig {
	return map[string]FieldConfig{
		"temperature": {Class: ClassMedium, ScaleForPct: 25, CooldownSecs: 21600},
		"humidity":    {Class: ClassMedium, ScaleForPct: 60, CooldownSecs: 21600},
		"ph":          {Class: ClassGood, ScaleForPct: 7, CooldownSecs: 21600},
		"ec":          {Class: ClassMedium, ScaleForPct: 2, CooldownSecs: 21600},
		"water_level": {Class: ClassCheap, ScaleForPct: 100, CooldownSecs: 21600},
		"water_temp":  {Class: ClassMedium, ScaleForPct: 25, CooldownSecs: 21600},
		"light_level": {Class: ClassCheap, ScaleForPct: 10000, CooldownSecs: 21600},
	}
}

const ringCap = 120

// pairState is the running statistics for one sensor pair's delta series.
type pairState struct {
	buf          *ring.Buffer[float64]
	count        int
	mean         float64
	m2           float64
	lastAlert    time.Time
}

func (p *pairState) stddev() float64 {
	if p.count < 2 {
		return 0
	}
	return math.Sqrt(p.m2 / float64(p.count-1))
}

func (p *pairState) update(delta float64) {
	p.buf.Push(delta)
	p.count++
	d := delta - p.mean
	p.mean += d / float64(p.count)
	d2 := delta - p.mean
	p.m2 += d * d2
}

// p95Abs returns the 95th percentile of the absolute deltas currently held.
func (p *pairState) p95Abs() float64 {
	vals := p.buf.Slice()
	if len(vals) == 0 {
		return 0
	}
	abs := make([]float64, len(vals))
	for i, v := range vals {
		abs[i] = math.Abs(v)
	}
	// simple insertion sort: buffers are capped small (ringCap), so O(n^2)
	// is fine and avoids pulling in sort for a bounded window.
	for i := 1; i < len(abs); i++ {
		for j := i; j > 0 && abs[j-1] > abs[j]; j-- {
			abs[j-1], abs[j] = abs[j], abs[j-1]
		}
	}
	idx := int(float64(len(abs)) * 0.95)
	if idx >= len(abs) {
		idx = len(abs) - 1
	}
	return abs[idx]
}

// Result is the outcome of feeding one pair of readings.
type Result struct {
	Field       string
	Fired       bool
	MeanDelta   float64
	StdDevDelta float64
	HealthScore float64
}

// Detector tracks drift for configured (base, base_secondary) pairs.
type Detector struct {
	mu      sync.Mutex
	cfg     map[string]FieldConfig
	pairs   map[string]*pairState // key: sensor_id + "\x00" + field
	now     func() time.Time
	kFactor float64
}

// New creates a drift detector with the given per-field config.
func New(cfg map[string]FieldConfig) *Detector {
	if cfg == nil {
		cfg = DefaultFieldConfigs()
	}
	return &Detector{cfg: cfg, pairs: make(map[string]*pairState), now: time.Now, kFactor: 2.0}
}

// Update feeds one (primary, secondary) reading pair for a base field and
// returns whether a drift alarm should fire now.
func (d *Detector) Update(sensorID, field string, primary, secondary float64) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := sensorID + "\x00" + field
	ps, ok := d.pairs[key]
	if !ok {
		ps = &pairState{buf: ring.New[float64](ringCap)}
		d.pairs[key] = ps
	}

	delta := primary - secondary
	ps.update(delta)

	fc, ok := d.cfg[field]
	if !ok {
		fc = FieldConfig{Class: ClassMedium, ScaleForPct: 1, CooldownSecs: 21600}
	}
	threshold := ClassThresholdPct(fc.Class) * fc.ScaleForPct

	now := d.now()
	exceeded := math.Abs(ps.mean) > threshold || ps.p95Abs() > threshold
	cooldownOK := now.Sub(ps.lastAlert).Seconds() >= fc.CooldownSecs

	health := 100 - d.kFactor*math.Abs(ps.mean) - d.kFactor*ps.stddev()
	if health < 0 {
		health = 0
	}

	fired := exceeded && cooldownOK
	if fired {
		ps.lastAlert = now
	}

	return Result{
		Field:       field,
		Fired:       fired,
		MeanDelta:   ps.mean,
		StdDevDelta: ps.stddev(),
		HealthScore: health,
	}
}

// AlertMessage renders a human-readable drift alert body.
func (r Result) AlertMessage(sensorID string) string {
	return fmt.Sprintf(
		"sensor drift on %s/%s: mean delta %.3f, stddev %.3f, health score %.0f",
		sensorID, r.Field, r.MeanDelta, r.StdDevDelta, r.HealthScore,
	)
}

// RuleID is the synthesized rule id for drift-sourced notifications:
// drift_<field>.
func (r Result) RuleID() string { return "drift_" + r.Field }

// Package analytics implements the analytic feature engine (C7): VPD, DLI,
// moving averages, trend classification, and anomaly flags derived from
// per-(sensor_id, field) ring buffers.
//
// Statistical tracking (running mean/variance, z-score outlier detection)
// follows the Welford's-algorithm shape used by the reference node
// anomaly detector, generalized here from a single per-node profile to a
// per-(sensor, field) profile.
package analytics

import (
	"math"
	"sync"
	"time"

	"github.com/hydroloop/gateway/internal/domain"
	"github.com/hydroloop/gateway/internal/infra/ring"
)

// BufferMaxSize is the analytic ring buffer capacity (~900 samples at 2s
// cadence, i.e. ~30 minutes).
const BufferMaxSize = 900

// AnomalyConfig tunes spike/flatline/jump detection for one field.
type AnomalyConfig struct {
	Z         float64 // spike z-score threshold
	ZHigh     float64 // z-score marking high severity
	FlatlineN int     // consecutive identical values
	JumpPct   float64 // |delta|/prev fraction
}

// DefaultAnomalyConfigs are the required per-field defaults from the spec.
func DefaultAnomalyConfigs() map[string]AnomalyConfig {
	return map[string]AnomalyConfig{
		"temperature": {Z: 2.5, ZHigh: 3.5, FlatlineN: 60, JumpPct: 0.10},
		"humidity":    {Z: 2.5, ZHigh: 3.5, FlatlineN: 60, JumpPct: 0.15},
		"ph":          {Z: 2.0, ZHigh: 3.5, FlatlineN: 120, JumpPct: 0.03},
		"ec":          {Z: 2.5, ZHigh: 3.5, FlatlineN: 120, JumpPct: 0.08},
		"water_level": {Z: 2.5, ZHigh: 3.5, FlatlineN: 300, JumpPct: 0.20},
		"light_level": {Z: 3.0, ZHigh: 3.5, FlatlineN: 60, JumpPct: 0.50},
	}
}

// Config tunes the engine as a whole.
type Config struct {
	AnomalyConfigs    map[string]AnomalyConfig
	DefaultPhotoperiod float64 // hours, default 14
	LuxToPPFD         float64 // k in PPFD = lux * k, default 0.0185
	TrendSlopeThresh  float64 // relative slope threshold for rising/falling
	VPDBandMin        float64 // default lettuce band 0.8 kPa
	VPDBandMax        float64 // default lettuce band 1.2 kPa
}

// DefaultConfig returns the spec's required defaults.
func DefaultConfig() Config {
	return Config{
		AnomalyConfigs:     DefaultAnomalyConfigs(),
		DefaultPhotoperiod: 14,
		LuxToPPFD:          0.0185,
		TrendSlopeThresh:   0.02,
		VPDBandMin:         0.8,
		VPDBandMax:         1.2,
	}
}

// fieldState is the ring buffer and anomaly bookkeeping for one
// (sensor_id, field) pair.
type fieldState struct {
	buf            *ring.Buffer[domain.Sample]
	flatlineRun    int
	flatlineVal    float64
	flatlineValSet bool
}

// dliState tracks one sensor's daily light integral accumulator.
type dliState struct {
	day        time.Time // local midnight of the day being accumulated
	accum      float64   // mol/m^2 so far today
	lastT      time.Time
	lastPPFD   float64
	haveLast   bool
	projection float64 // last computed projected DLI for today
}

// Engine computes derived features per ingest. Safe for concurrent use
// across distinct sensor ids; per-sensor calls must arrive in order
// (guaranteed by the ingest orchestrator's per-sensor serialization).
type Engine struct {
	cfg Config

	mu     sync.Mutex
	fields map[string]*fieldState // key: sensor_id + "\x00" + field
	dli    map[string]*dliState   // key: sensor_id

	now func() time.Time
}

// New creates an analytic feature engine.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:    cfg,
		fields: make(map[string]*fieldState),
		dli:    make(map[string]*dliState),
		now:    time.Now,
	}
}

func fieldKey(sensorID, field string) string { return sensorID + "\x00" + field }

// Ingest folds reading into the per-field ring buffers and returns the
// derived feature bundle. Pure given the engine's internal state — the
// returned Feature is a read-only snapshot.
func (e *Engine) Ingest(sensorID string, reading domain.Reading) domain.Feature {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts := reading.Timestamp
	var feat domain.Feature

	for _, field := range domain.KnownFields {
		v, ok := reading.Fields[field]
		if !ok {
			continue
		}
		fs := e.getOrCreate(sensorID, field)
		fs.buf.Push(domain.Sample{T: ts, V: v})

		if flag, ok := e.detectAnomaly(field, fs, v); ok {
			feat.Anomalies = append(feat.Anomalies, flag)
		}
	}

	if t, ok1 := reading.Fields["temperature"]; ok1 {
		if h, ok2 := reading.Fields["humidity"]; ok2 {
			feat.VPD = vpd(t, h)
			feat.VPDBand = classifyVPD(feat.VPD, e.cfg.VPDBandMin, e.cfg.VPDBandMax)
		}
	}

	if lux, ok := reading.Fields["light_level"]; ok {
		accum, proj := e.accumulateDLI(sensorID, ts, lux)
		feat.DLIAccum = accum
		feat.DLIProject = proj
	}

	if fs, ok := e.fields[fieldKey(sensorID, "temperature")]; ok {
		samples := fs.buf.Slice()
		feat.MA10 = movingAverage(samples, 10)
		feat.MA30 = movingAverage(samples, 30)
		feat.MA60 = movingAverage(samples, 60)
		feat.Trend = classifyTrend(samples, 30, e.cfg.TrendSlopeThresh)
	}

	return feat
}

func (e *Engine) getOrCreate(sensorID, field string) *fieldState {
	key := fieldKey(sensorID, field)
	fs, ok := e.fields[key]
	if !ok {
		fs = &fieldState{buf: ring.New[domain.Sample](BufferMaxSize)}
		e.fields[key] = fs
	}
	return fs
}

// Samples returns a copy of the ring buffer for (sensorID, field), oldest
// first. Returned by value — the rule engine only ever observes copies.
func (e *Engine) Samples(sensorID, field string) []domain.Sample {
	e.mu.Lock()
	defer e.mu.Unlock()
	fs, ok := e.fields[fieldKey(sensorID, field)]
	if !ok {
		return nil
	}
	return fs.buf.Slice()
}

// ─── VPD ─────────────────────────────────────────────────────────────────

// vpd computes Vapor Pressure Deficit in kPa from temperature (C) and
// relative humidity (%): SVP = 0.6108 * exp(17.27*T/(T+237.3)); VPD =
// SVP * (1 - RH/100).
func vpd(tempC, rhPct float64) float64 {
	svp := 0.6108 * math.Exp(17.27*tempC/(tempC+237.3))
	return svp * (1 - rhPct/100)
}

func classifyVPD(v, min, max float64) string {
	switch {
	case v < min:
		return "low"
	case v > max:
		return "high"
	default:
		return "ok"
	}
}

// ─── DLI ─────────────────────────────────────────────────────────────────

// accumulateDLI integrates PPFD = lux * k trapezoidally over the current
// local day, resetting at local midnight, and returns (accumulated mol/m2
// so far, projected end-of-day total using the default photoperiod).
func (e *Engine) accumulateDLI(sensorID string, ts time.Time, lux float64) (float64, float64) {
	st, ok := e.dli[sensorID]
	day := localMidnight(ts)
	if !ok {
		st = &dliState{day: day}
		e.dli[sensorID] = st
	}
	if !st.day.Equal(day) {
		// New local day: reset the accumulator. The prior projection stays
		// queryable via st.projection until the next one is computed.
		st.day = day
		st.accum = 0
		st.haveLast = false
	}

	ppfd := lux * e.cfg.LuxToPPFD

	if st.haveLast {
		dtSeconds := ts.Sub(st.lastT).Seconds()
		if dtSeconds > 0 {
			// Trapezoidal integration: mol/m2 = avg(PPFD) * dt(s) / 1e6
			avg := (ppfd + st.lastPPFD) / 2
			st.accum += avg * dtSeconds / 1_000_000
		}
	}
	st.lastT = ts
	st.lastPPFD = ppfd
	st.haveLast = true

	elapsedHrs := ts.Sub(day).Hours()
	photoperiod := e.cfg.DefaultPhotoperiod
	if elapsedHrs > 0 && elapsedHrs < photoperiod {
		st.projection = st.accum * (photoperiod / elapsedHrs)
	} else if elapsedHrs >= photoperiod {
		st.projection = st.accum
	}

	return st.accum, st.projection
}

func localMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ─── Moving averages & trend ───────────────────────────────────────────────

func movingAverage(samples []domain.Sample, n int) float64 {
	if len(samples) == 0 {
		return 0
	}
	if n > len(samples) {
		n = len(samples)
	}
	start := len(samples) - n
	var sum float64
	for _, s := range samples[start:] {
		sum += s.V
	}
	return sum / float64(n)
}

// classifyTrend computes the slope of a linear regression over the last n
// samples and classifies rising/falling/stable using a relative-slope
// threshold (slope / mean value).
func classifyTrend(samples []domain.Sample, n int, relThresh float64) string {
	if len(samples) < 2 {
		return "stable"
	}
	if n > len(samples) {
		n = len(samples)
	}
	window := samples[len(samples)-n:]

	slope, mean := linregSlope(window)
	if mean == 0 {
		return "stable"
	}
	rel := slope / math.Abs(mean)
	switch {
	case rel > relThresh:
		return "rising"
	case rel < -relThresh:
		return "falling"
	default:
		return "stable"
	}
}

// linregSlope fits y = a + b*x over samples (x = sample index) and
// returns (b, mean(y)).
func linregSlope(samples []domain.Sample) (float64, float64) {
	n := float64(len(samples))
	var sumX, sumY, sumXY, sumXX float64
	for i, s := range samples {
		x := float64(i)
		sumX += x
		sumY += s.V
		sumXY += x * s.V
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope := (n*sumXY - sumX*sumY) / denom
	return slope, sumY / n
}

// ─── Anomaly detection ──────────────────────────────────────────────────────

func (e *Engine) detectAnomaly(field string, fs *fieldState, v float64) (domain.AnomalyFlag, bool) {
	cfg, ok := e.cfg.AnomalyConfigs[field]
	if !ok {
		return domain.AnomalyFlag{}, false
	}

	samples := fs.buf.Slice()

	// Flatline: track a run of identical values independent of z-score
	// checks below, so repeated ingestion of the same reading is expected
	// to eventually flag (per the idempotence testable property).
	if fs.flatlineValSet && v == fs.flatlineVal {
		fs.flatlineRun++
	} else {
		fs.flatlineRun = 1
		fs.flatlineVal = v
		fs.flatlineValSet = true
	}
	if fs.flatlineRun >= cfg.FlatlineN {
		return domain.AnomalyFlag{
			Field: field, Kind: domain.AnomalyFlatline, High: false,
			Detail: "value unchanged for consecutive samples",
		}, true
	}

	// Sudden jump vs previous sample.
	if len(samples) >= 2 {
		prev := samples[len(samples)-2].V
		if prev != 0 {
			jump := math.Abs(v-prev) / math.Abs(prev)
			if jump >= cfg.JumpPct {
				return domain.AnomalyFlag{
					Field: field, Kind: domain.AnomalySuddenJump, High: jump >= cfg.JumpPct*2,
					Detail: "value jumped sharply from previous sample",
				}, true
			}
		}
	}

	// Spike: z-score vs the buffer's running mean/stddev (excluding the
	// newly pushed sample from variance estimation would require a second
	// pass; using the full window including the latest point keeps this
	// O(n) per ingest with n capped at BufferMaxSize).
	if len(samples) >= 5 {
		mean, stddev := meanStddev(samples)
		if stddev > 0 {
			z := math.Abs(v-mean) / stddev
			if z >= cfg.Z {
				return domain.AnomalyFlag{
					Field: field, Kind: domain.AnomalySpike, High: z >= cfg.ZHigh,
					Detail: "value is a statistical outlier vs recent history",
				}, true
			}
		}
	}

	return domain.AnomalyFlag{}, false
}

func meanStddev(samples []domain.Sample) (float64, float64) {
	n := float64(len(samples))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.V
	}
	mean := sum / n
	if n < 2 {
		return mean, 0
	}
	var sq float64
	for _, s := range samples {
		d := s.V - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / (n - 1))
}

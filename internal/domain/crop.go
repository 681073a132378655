package domain

import "time"

// StageName is one position in a variety's ordered stage list. Flowering
// and fruiting may be absent for a given variety.
type StageName string

const (
	StageGermination StageName = "germination"
	StageSeedling    StageName = "seedling"
	StageTransplant  StageName = "transplant"
	StageVegetative  StageName = "vegetative"
	StageFlowering   StageName = "flowering"
	StageFruiting    StageName = "fruiting"
	StageMaturity    StageName = "maturity"
	StageHarvestReady StageName = "harvest_ready"
)

// Range is an optimal/critical bound pair for one sensor field during a
// stage.
type Range struct {
	OptimalMin  float64 `json:"optimal_min"`
	OptimalMax  float64 `json:"optimal_max"`
	CriticalMin float64 `json:"critical_min"`
	CriticalMax float64 `json:"critical_max"`
}

// StageConfig is one entry in a variety's ordered stage list.
type StageConfig struct {
	Name            StageName        `json:"name"`
	ExpectedDays    int              `json:"expected_days"`
	Ranges          map[string]Range `json:"ranges"` // sensor field -> range
	PhotoperiodHrs  float64          `json:"photoperiod_hours,omitempty"`
}

// VarietyConfig supplies the ordered stage list and per-stage ranges for a
// crop variety.
type VarietyConfig struct {
	Name              string        `json:"name"`
	Stages            []StageConfig `json:"stages"`
	DefaultPhotoperiod float64      `json:"default_photoperiod_hours"` // default 14h
	VPDBandMin        float64       `json:"vpd_band_min,omitempty"`    // default 0.8 kPa
	VPDBandMax        float64       `json:"vpd_band_max,omitempty"`    // default 1.2 kPa
}

// StageAt returns the StageConfig at index i, or false if out of range.
func (v VarietyConfig) StageAt(i int) (StageConfig, bool) {
	if i < 0 || i >= len(v.Stages) {
		return StageConfig{}, false
	}
	return v.Stages[i], true
}

// IndexOf returns the index of the named stage, or -1.
func (v VarietyConfig) IndexOf(name StageName) int {
	for i, s := range v.Stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// DefaultVarieties returns the built-in variety set used when no
// `[crops]` variety file is configured: a lettuce profile with the
// spec's default VPD band (0.8-1.2 kPa) and photoperiod (14h), so the
// stage overlay synthesizes rules out of the box rather than sitting
// permanently empty.
func DefaultVarieties() map[string]VarietyConfig {
	return map[string]VarietyConfig{
		"lettuce": {
			Name:               "lettuce",
			DefaultPhotoperiod: 14,
			VPDBandMin:         0.8,
			VPDBandMax:         1.2,
			Stages: []StageConfig{
				{
					Name:         StageGermination,
					ExpectedDays: 5,
					Ranges: map[string]Range{
						"temperature": {OptimalMin: 20, OptimalMax: 22, CriticalMin: 16, CriticalMax: 26},
						"humidity":    {OptimalMin: 65, OptimalMax: 80, CriticalMin: 50, CriticalMax: 90},
					},
				},
				{
					Name:         StageSeedling,
					ExpectedDays: 10,
					Ranges: map[string]Range{
						"temperature": {OptimalMin: 18, OptimalMax: 22, CriticalMin: 15, CriticalMax: 26},
						"humidity":    {OptimalMin: 60, OptimalMax: 75, CriticalMin: 45, CriticalMax: 85},
						"ph":          {OptimalMin: 5.5, OptimalMax: 6.2, CriticalMin: 5.0, CriticalMax: 6.8},
						"ec":          {OptimalMin: 0.8, OptimalMax: 1.2, CriticalMin: 0.5, CriticalMax: 1.6},
					},
				},
				{
					Name:         StageVegetative,
					ExpectedDays: 20,
					Ranges: map[string]Range{
						"temperature": {OptimalMin: 18, OptimalMax: 24, CriticalMin: 14, CriticalMax: 28},
						"humidity":    {OptimalMin: 55, OptimalMax: 70, CriticalMin: 40, CriticalMax: 85},
						"ph":          {OptimalMin: 5.5, OptimalMax: 6.5, CriticalMin: 5.0, CriticalMax: 7.0},
						"ec":          {OptimalMin: 1.2, OptimalMax: 1.8, CriticalMin: 0.8, CriticalMax: 2.2},
					},
				},
				{
					Name:         StageMaturity,
					ExpectedDays: 7,
					Ranges: map[string]Range{
						"temperature": {OptimalMin: 16, OptimalMax: 22, CriticalMin: 12, CriticalMax: 26},
						"humidity":    {OptimalMin: 50, OptimalMax: 65, CriticalMin: 40, CriticalMax: 80},
						"ph":          {OptimalMin: 5.5, OptimalMax: 6.5, CriticalMin: 5.0, CriticalMax: 7.0},
						"ec":          {OptimalMin: 1.2, OptimalMax: 1.8, CriticalMin: 0.8, CriticalMax: 2.2},
					},
				},
				{
					Name:         StageHarvestReady,
					ExpectedDays: 3,
					Ranges: map[string]Range{
						"temperature": {OptimalMin: 16, OptimalMax: 20, CriticalMin: 12, CriticalMax: 24},
						"humidity":    {OptimalMin: 50, OptimalMax: 65, CriticalMin: 40, CriticalMax: 80},
					},
				},
			},
		},
	}
}

// CropStatus is the lifecycle status of a crop batch.
type CropStatus string

const (
	CropActive    CropStatus = "active"
	CropHarvested CropStatus = "harvested"
	CropAborted   CropStatus = "aborted"
)

// Crop is one tracked planting.
type Crop struct {
	ID           string     `json:"id"`
	Variety      string     `json:"variety"`
	Zone         string     `json:"zone"`
	SensorID     string     `json:"sensor_id"`
	PlantDate    time.Time  `json:"plant_date"`
	Status       CropStatus `json:"status"`
	CurrentStage StageName  `json:"current_stage"`
	StageEnteredAt time.Time `json:"stage_entered_at"`
}

// DaysInStage returns how many whole days the crop has spent in its
// current stage as of now.
func (c Crop) DaysInStage(now time.Time) int {
	return int(now.Sub(c.StageEnteredAt).Hours() / 24)
}

// Calibration tracks sensor calibration due dates (supplemented — see
// SPEC_FULL.md §5.1).
type Calibration struct {
	ID              string    `json:"id"`
	SensorID        string    `json:"sensor_id"`
	Field           string    `json:"field"`
	LastCalibrated  time.Time `json:"last_calibrated_at"`
	IntervalDays    int       `json:"interval_days"`
}

// DueAt returns when this calibration next falls due.
func (c Calibration) DueAt() time.Time {
	return c.LastCalibrated.AddDate(0, 0, c.IntervalDays)
}

// IsDue reports whether the calibration is due at the given instant.
func (c Calibration) IsDue(now time.Time) bool {
	return !now.Before(c.DueAt())
}

// Harvest closes out a crop's lifecycle (supplemented).
type Harvest struct {
	ID          string    `json:"id"`
	CropID      string    `json:"crop_id"`
	HarvestedAt time.Time `json:"harvested_at"`
	YieldGrams  float64   `json:"yield_grams,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// Event is an append-only audit trail row (supplemented) — stage
// transitions, escalation opens/closes, StateCorruption resets, rule CRUD.
type Event struct {
	ID       string            `json:"id"`
	Kind     string            `json:"kind"`
	SensorID string            `json:"sensor_id,omitempty"`
	CropID   string            `json:"crop_id,omitempty"`
	Payload  map[string]string `json:"payload,omitempty"`
	At       time.Time         `json:"at"`
}

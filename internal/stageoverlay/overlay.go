// Package stageoverlay computes stage-specific rule overlays for a crop's
// sensor_id (C10): synthesized rules that augment — never replace —
// the static rule set (open question resolved: augment with dedup, per
// SPEC_FULL.md §11). Grounded on the reference crop-stage progression
// shape: an ordered stage list with per-stage expected duration, swept
// periodically to auto-advance.
package stageoverlay

import (
	"fmt"
	"sync"
	"time"

	"github.com/hydroloop/gateway/internal/domain"
)

// EventSink receives stage-transition events for C2 persistence.
type EventSink interface {
	RecordStageTransition(cropID, stage string, at time.Time) error
}

// Overlay tracks crops and variety configs and synthesizes stage-scoped
// rules for a sensor id.
type Overlay struct {
	mu        sync.RWMutex
	crops     map[string]domain.Crop // keyed by crop id
	varieties map[string]domain.VarietyConfig
	events    EventSink
	now       func() time.Time
}

// New creates an overlay with the given variety configs.
func New(varieties map[string]domain.VarietyConfig, events EventSink) *Overlay {
	return &Overlay{
		crops:     make(map[string]domain.Crop),
		varieties: varieties,
		events:    events,
		now:       time.Now,
	}
}

// PutCrop registers or updates a tracked crop.
func (o *Overlay) PutCrop(c domain.Crop) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.crops[c.ID] = c
}

// Crop returns a copy of a tracked crop by id.
func (o *Overlay) Crop(id string) (domain.Crop, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.crops[id]
	return c, ok
}

// ListActive returns every crop with status active.
func (o *Overlay) ListActive() []domain.Crop {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []domain.Crop
	for _, c := range o.crops {
		if c.Status == domain.CropActive {
			out = append(out, c)
		}
	}
	return out
}

// AutoAdvance sweeps active crops: when days_in_stage >= expected for the
// current stage, advance to the next stage and emit a transition event
// exactly once. Crops already at the variety's last stage are left in
// place (harvest is an explicit operator action, not auto-advanced).
func (o *Overlay) AutoAdvance(now time.Time) error {
	o.mu.Lock()
	type advance struct {
		cropID string
		stage  string
	}
	var advances []advance

	for id, c := range o.crops {
		if c.Status != domain.CropActive {
			continue
		}
		variety, ok := o.varieties[c.Variety]
		if !ok {
			continue
		}
		idx := variety.IndexOf(c.CurrentStage)
		if idx < 0 {
			continue
		}
		stage, ok := variety.StageAt(idx)
		if !ok {
			continue
		}
		if c.DaysInStage(now) < stage.ExpectedDays {
			continue
		}
		next, ok := variety.StageAt(idx + 1)
		if !ok {
			continue // already at the last stage
		}
		c.CurrentStage = next.Name
		c.StageEnteredAt = now
		o.crops[id] = c
		advances = append(advances, advance{cropID: id, stage: string(next.Name)})
	}
	o.mu.Unlock()

	for _, a := range advances {
		if err := o.events.RecordStageTransition(a.cropID, a.stage, now); err != nil {
			return fmt.Errorf("record stage transition for %s: %w", a.cropID, err)
		}
	}
	return nil
}

// RulesFor synthesizes the stage-scoped rule list for sensorID: one rule
// per (field, bound) pair on the active crop's current stage, namespaced
// stage:<crop>:<rule>. Returns nil if no active crop is bound to
// sensorID.
func (o *Overlay) RulesFor(sensorID string) []domain.Rule {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var crop *domain.Crop
	for _, c := range o.crops {
		if c.SensorID == sensorID && c.Status == domain.CropActive {
			cc := c
			crop = &cc
			break
		}
	}
	if crop == nil {
		return nil
	}
	variety, ok := o.varieties[crop.Variety]
	if !ok {
		return nil
	}
	idx := variety.IndexOf(crop.CurrentStage)
	stage, ok := variety.StageAt(idx)
	if !ok {
		return nil
	}

	var out []domain.Rule
	for field, rng := range stage.Ranges {
		if rng.CriticalMax > rng.CriticalMin {
			out = append(out, domain.Rule{
				ID:          fmt.Sprintf("stage:%s:%s_high", crop.ID, field),
				Name:        fmt.Sprintf("%s above stage range (%s)", field, stage.Name),
				Enabled:     true,
				SensorField: field,
				Condition:   domain.ConditionAbove,
				Threshold:   rng.CriticalMax,
				WarningMargin: rng.CriticalMax - rng.OptimalMax,
				Action: domain.Action{
					Kind:     domain.ActionNotify,
					Severity: domain.SeverityWarning,
					Message:  fmt.Sprintf("%s out of range for stage %s on crop %s", field, stage.Name, crop.ID),
				},
			})
			out = append(out, domain.Rule{
				ID:          fmt.Sprintf("stage:%s:%s_low", crop.ID, field),
				Name:        fmt.Sprintf("%s below stage range (%s)", field, stage.Name),
				Enabled:     true,
				SensorField: field,
				Condition:   domain.ConditionBelow,
				Threshold:   rng.CriticalMin,
				WarningMargin: rng.OptimalMin - rng.CriticalMin,
				Action: domain.Action{
					Kind:     domain.ActionNotify,
					Severity: domain.SeverityWarning,
					Message:  fmt.Sprintf("%s out of range for stage %s on crop %s", field, stage.Name, crop.ID),
				},
			})
		}
	}
	return out
}

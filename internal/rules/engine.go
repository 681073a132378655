// Package rules implements the configurable predicate x action engine
// (C9). Rule storage is a JSON file written atomically via a temp-file
// plus rename, the same pattern the reference registry manager uses for
// downloaded blobs.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hydroloop/gateway/internal/domain"
)

// Notifier is the narrow interface the engine needs from the
// notification dispatcher.
type Notifier interface {
	Notify(ctx context.Context, ruleID, ruleName string, sev domain.Severity, reason string, value, threshold float64, recommendedAction string, snapshot map[string]float64, force bool) domain.Alert
}

// CommandEnqueuer is the narrow interface the engine needs from C11.
type CommandEnqueuer interface {
	Enqueue(deviceID, command, value string)
}

// ACDriver is the narrow interface the engine needs from C12.
type ACDriver interface {
	Set(ctx context.Context, zone string, cmd domain.ACCommand, targetTemp float64) error
}

// ruleState is the per-rule duration tracking the engine keeps alongside
// the stored rule.
type ruleState struct {
	firstSeenTrue time.Time
}

// Engine holds the rule set and dispatches fired actions to its
// collaborators.
type Engine struct {
	mu    sync.RWMutex
	rules map[string]domain.Rule
	state map[string]*ruleState
	path  string

	notifier Notifier
	commands CommandEnqueuer
	ac       ACDriver
	logger   *log.Logger
	now      func() time.Time
}

// New creates an engine backed by the rules file at path, wired to its
// action collaborators.
func New(path string, notifier Notifier, commands CommandEnqueuer, ac ACDriver, logger *log.Logger) (*Engine, error) {
	e := &Engine{
		rules:    make(map[string]domain.Rule),
		state:    make(map[string]*ruleState),
		path:     path,
		notifier: notifier,
		commands: commands,
		ac:       ac,
		logger:   logger,
		now:      time.Now,
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load() error {
	data, err := os.ReadFile(e.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	var list []domain.Rule
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parse rules file: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range list {
		e.rules[r.ID] = r
	}
	return nil
}

// persist writes the full rule set to disk atomically: write to a temp
// file in the same directory, then rename over the target.
func (e *Engine) persist() error {
	list := make([]domain.Rule, 0, len(e.rules))
	for _, r := range e.rules {
		list = append(list, r)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(e.path)
	tmp := filepath.Join(dir, ".rules-"+fmt.Sprint(e.now().UnixNano())+".tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, e.path)
}

// Add inserts a new rule. Returns ErrRuleExists if the id is taken.
func (e *Engine) Add(r domain.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[r.ID]; ok {
		return domain.ErrRuleExists
	}
	e.rules[r.ID] = r
	return e.persist()
}

// Get returns a copy of the rule by id.
func (e *Engine) Get(id string) (domain.Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[id]
	if !ok {
		return domain.Rule{}, domain.ErrRuleNotFound
	}
	return r, nil
}

// List returns a copy of every stored rule.
func (e *Engine) List() []domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	return out
}

// Update replaces the rule at r.ID. Returns ErrRuleNotFound if absent.
func (e *Engine) Update(r domain.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[r.ID]; !ok {
		return domain.ErrRuleNotFound
	}
	e.rules[r.ID] = r
	return e.persist()
}

// Delete removes a rule by id.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return domain.ErrRuleNotFound
	}
	delete(e.rules, id)
	delete(e.state, id)
	return e.persist()
}

// band classifies a predicate evaluation.
type band int

const (
	bandNone band = iota
	bandPreventive
	bandCritical
)

// classify applies the above/below predicate with its preventive margin.
// Exact equality on threshold never triggers the critical path.
func classify(r domain.Rule, v float64) band {
	switch r.Condition {
	case domain.ConditionAbove:
		if v > r.Threshold {
			return bandCritical
		}
		if r.WarningMargin > 0 && v >= r.Threshold-r.WarningMargin && v < r.Threshold {
			return bandPreventive
		}
	case domain.ConditionBelow:
		if v < r.Threshold {
			return bandCritical
		}
		if r.WarningMargin > 0 && v <= r.Threshold+r.WarningMargin && v > r.Threshold {
			return bandPreventive
		}
	}
	return bandNone
}

// Evaluate runs every enabled static rule plus ec.Overlay's synthesized
// rules against ec, executes fired actions, and returns one Firing per
// rule that fired after action dedup (preventive firings included).
func (e *Engine) Evaluate(ctx context.Context, ec domain.EvaluationContext) []domain.Firing {
	e.mu.Lock()
	candidates := make([]domain.Rule, 0, len(e.rules)+len(ec.Overlay))
	for _, r := range e.rules {
		if r.Enabled {
			candidates = append(candidates, r)
		}
	}
	candidates = append(candidates, ec.Overlay...)

	var firings []domain.Firing
	seenActionKeys := make(map[string]bool)

	for _, r := range candidates {
		f, ok := e.evaluateOne(r, ec)
		if !ok {
			continue
		}
		key := f.Action.DedupKey()
		if seenActionKeys[key] {
			continue
		}
		seenActionKeys[key] = true
		firings = append(firings, f)
	}
	e.mu.Unlock()

	for _, f := range firings {
		e.execute(ctx, f, ec)
	}
	return firings
}

// evaluateOne evaluates a single rule's predicate, duration arming,
// and external gate. Must be called with e.mu held (it mutates
// e.state). A missing field or an unmet gate is treated as a non-firing
// and never propagated; neither is logged.
func (e *Engine) evaluateOne(r domain.Rule, ec domain.EvaluationContext) (domain.Firing, bool) {
	v, ok := ec.Values[r.SensorField]
	if !ok {
		return domain.Firing{}, false
	}

	b := classify(r, v)
	st, ok := e.state[r.ID]
	if !ok {
		st = &ruleState{}
		e.state[r.ID] = st
	}

	if b == bandNone {
		st.firstSeenTrue = time.Time{}
		return domain.Firing{}, false
	}

	if r.DurationSecs > 0 {
		if st.firstSeenTrue.IsZero() {
			st.firstSeenTrue = e.now()
			return domain.Firing{}, false
		}
		if e.now().Sub(st.firstSeenTrue).Seconds() < r.DurationSecs {
			return domain.Firing{}, false
		}
	}

	if r.ExternalGate != nil {
		if !ec.External.EvalGate(*r.ExternalGate) {
			return domain.Firing{}, false
		}
	}

	action := r.Action
	severity := action.Severity
	if b == bandPreventive {
		severity = domain.SeverityPreventive
	}

	return domain.Firing{
		RuleID:      r.ID,
		Preventive:  b == bandPreventive,
		Severity:    severity,
		Action:      action,
		FieldValue:  v,
		Threshold:   r.Threshold,
		StageScoped: strings.HasPrefix(r.ID, "stage:"),
	}, true
}

// FireNotify routes an already-decided notification (from the drift
// detector or an analytic anomaly flag) straight to the notifier,
// bypassing predicate evaluation — the caller has already determined
// the condition holds.
func (e *Engine) FireNotify(ctx context.Context, ruleID, message string, sev domain.Severity, value float64, snapshot map[string]float64) {
	e.notifier.Notify(ctx, ruleID, ruleID, sev, message, value, 0, "", snapshot, false)
}

func (e *Engine) execute(ctx context.Context, f domain.Firing, ec domain.EvaluationContext) {
	switch f.Action.Kind {
	case domain.ActionArduino:
		name, value := splitCommand(f.Action.Command)
		e.commands.Enqueue(ec.SensorID, name, value)
	case domain.ActionAC:
		target := 0.0
		if f.Action.TargetTemp != nil {
			target = *f.Action.TargetTemp
		}
		if err := e.ac.Set(ctx, ec.SensorID, f.Action.ACCommand, target); err != nil {
			e.logger.Printf("rules: ac dispatch failed for rule %s: %v", f.RuleID, err)
		}
	case domain.ActionNotify:
		e.notifier.Notify(ctx, f.RuleID, f.RuleID, f.Severity, f.Action.Message, f.FieldValue, f.Threshold, f.Action.RecommendedAction, ec.Values, ec.ForceMode)
	}
}

// splitCommand decomposes an arduino command like "led_on" or
// "led_blink" into (name, value): ("led", "on"), ("led", "blink").
func splitCommand(cmd string) (string, string) {
	idx := strings.LastIndex(cmd, "_")
	if idx < 0 {
		return cmd, ""
	}
	return cmd[:idx], cmd[idx+1:]
}

// Package cooldown implements the per-rule suppression clock and bounded
// alert history ring (C5). The single-mutex-guarded active/last-fired map
// shape follows the reference alerts engine's Evaluate loop (a
// rule-keyed map of last-fire timestamps guarding async delivery).
package cooldown

import (
	"sync"
	"time"

	"github.com/hydroloop/gateway/internal/domain"
	"github.com/hydroloop/gateway/internal/infra/ring"
)

// DefaultCooldownSeconds is the flat, non-severity-weighted cooldown
// period (spec Open Question #3: preserved as flat).
const DefaultCooldownSeconds = 900

// DefaultHistoryCap is the bounded alert history ring size.
const DefaultHistoryCap = 50

// Ledger guards the cooldown clock and alert history. Shared by the
// notification dispatcher (writer) and the rule engine / API (readers).
type Ledger struct {
	mu              sync.Mutex
	cooldownSeconds float64
	lastFired       map[string]time.Time
	suppressed      map[string]int
	history         *ring.Buffer[domain.Alert]
	now             func() time.Time
}

// New creates a Ledger with the given cooldown window and history cap.
func New(cooldownSeconds float64, historyCap int) *Ledger {
	if cooldownSeconds <= 0 {
		cooldownSeconds = DefaultCooldownSeconds
	}
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &Ledger{
		cooldownSeconds: cooldownSeconds,
		lastFired:       make(map[string]time.Time),
		suppressed:      make(map[string]int),
		history:         ring.New[domain.Alert](historyCap),
		now:             time.Now,
	}
}

// Allow reports whether rule ruleID may fire now. force bypasses the
// cooldown check entirely (the test endpoint). On suppression, the
// suppressed counter for ruleID is incremented. On allow, the last-fired
// clock is updated immediately so callers never race past this gate for
// the same rule. Escalation re-notifies do not call Allow, so they are
// not serialized through this gate.
func (l *Ledger) Allow(ruleID string, force bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if force {
		l.lastFired[ruleID] = l.now()
		return true
	}

	now := l.now()
	last, seen := l.lastFired[ruleID]
	if seen && now.Sub(last).Seconds() < l.cooldownSeconds {
		l.suppressed[ruleID]++
		return false
	}
	l.lastFired[ruleID] = now
	return true
}

// Record appends an alert to the bounded history ring. Called regardless
// of how many channels actually accepted the send, so a rule that fails
// every channel still shows up in history (per failure semantics in
// SPEC_FULL.md §6/C4).
func (l *Ledger) Record(a domain.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history.Push(a)
}

// History returns a copy of the alert history, oldest first.
func (l *Ledger) History() []domain.Alert {
	return l.history.Slice()
}

// SuppressedCount returns how many times ruleID has been suppressed by
// cooldown since the ledger was created.
func (l *Ledger) SuppressedCount(ruleID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.suppressed[ruleID]
}

// CooldownSeconds returns the configured flat cooldown window.
func (l *Ledger) CooldownSeconds() float64 {
	return l.cooldownSeconds
}

// Entry returns the current cooldown entry for ruleID, for inspection/API
// surfacing.
func (l *Ledger) Entry(ruleID string) domain.CooldownEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.CooldownEntry{
		RuleID:          ruleID,
		LastFiredAt:     l.lastFired[ruleID],
		SuppressedCount: l.suppressed[ruleID],
	}
}

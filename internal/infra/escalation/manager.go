// Package escalation advances unresolved alerts through severity tiers
// on a time-driven ladder (C6). The open-set-of-keys-with-expiry shape
// follows the reference healing package's QuarantineManager, adapted
// from a ban ladder (duration per offense count) to a dwell ladder
// (duration per escalation level).
package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/hydroloop/gateway/internal/domain"
)

// Notifier is the narrow interface the escalation manager needs from the
// notification dispatcher — re-notify with an advanced severity.
type Notifier interface {
	Escalate(ctx context.Context, ruleID string, level domain.EscalationLevel, sensorSnapshot map[string]float64) bool
}

// TickInterval is how often the background loop wakes to check for due
// escalations (spec: at least every 30s).
const TickInterval = 30 * time.Second

// Manager holds the open set of alert-keys under escalation.
type Manager struct {
	mu       sync.Mutex
	open     map[string]*domain.EscalationRecord
	notifier Notifier
	now      func() time.Time
}

// New creates an escalation manager wired to notifier. notifier may be
// nil at construction time and supplied later via SetNotifier — the
// dispatcher and manager wire to each other, so one side must be built
// first.
func New(notifier Notifier) *Manager {
	return &Manager{
		open:     make(map[string]*domain.EscalationRecord),
		notifier: notifier,
		now:      time.Now,
	}
}

// SetNotifier wires (or rewires) the manager's notifier after
// construction.
func (m *Manager) SetNotifier(notifier Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = notifier
}

// Open starts escalation tracking for ruleID at the given
// starting level (usually the severity the initial alert fired at).
// Re-opening an already-open key is a no-op — the existing span
// continues unless Acknowledge closed it.
func (m *Manager) Open(ruleID string, startLevel domain.EscalationLevel, sensorSnapshot map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ruleID
	if rec, ok := m.open[key]; ok && !rec.Resolved {
		return
	}
	now := m.now()
	m.open[key] = &domain.EscalationRecord{
		Key:       key,
		RuleID:    ruleID,
		Level:     startLevel,
		FirstSeen: now,
		NextDueAt: now.Add(domain.DwellLadder[startLevel]),
	}
}

// Acknowledge marks the alert-key resolved and removes it from tracking.
func (m *Manager) Acknowledge(alertKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.open[alertKey]; ok {
		rec.Resolved = true
		rec.LastAck = m.now()
		delete(m.open, alertKey)
	}
}

// Snapshot returns copies of all currently open escalation records.
func (m *Manager) Snapshot() []domain.EscalationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EscalationRecord, 0, len(m.open))
	for _, rec := range m.open {
		out = append(out, *rec)
	}
	return out
}

// Run starts the background ticker loop; call in a goroutine. Stops
// promptly on ctx cancellation (the escalation ticker stops first during
// graceful shutdown, per the concurrency model).
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	now := m.now()

	type due struct {
		ruleID string
		level  domain.EscalationLevel
	}
	var dueList []due

	m.mu.Lock()
	for _, rec := range m.open {
		if rec.Resolved {
			continue
		}
		if !now.Before(rec.NextDueAt) {
			rec.Level = rec.Level.Next()
			rec.NextDueAt = now.Add(domain.DwellLadder[rec.Level])
			dueList = append(dueList, due{ruleID: rec.RuleID, level: rec.Level})
		}
	}
	m.mu.Unlock()

	// Re-notify outside the lock. The notifier's Escalate does not pass
	// through the cooldown ledger's Allow, so an escalation re-notify and
	// a fresh firing of the same rule_id are not serialized against each
	// other.
	for _, d := range dueList {
		m.notifier.Escalate(ctx, d.ruleID, d.level, nil)
	}
}

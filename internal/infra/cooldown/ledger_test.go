package cooldown

import (
	"testing"
	"time"

	"github.com/hydroloop/gateway/internal/domain"
)

func TestLedger_AllowSuppressesWithinCooldownWindow(t *testing.T) {
	l := New(60, 10)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	l.now = func() time.Time { return now }

	if !l.Allow("rule-1", false) {
		t.Fatal("first Allow() should succeed, no prior firing")
	}

	now = start.Add(30 * time.Second)
	if l.Allow("rule-1", false) {
		t.Error("Allow() within cooldown window should be suppressed")
	}
	if got := l.SuppressedCount("rule-1"); got != 1 {
		t.Errorf("SuppressedCount() = %d, want 1", got)
	}

	now = start.Add(59 * time.Second)
	if l.Allow("rule-1", false) {
		t.Error("Allow() just under cooldown boundary should still be suppressed")
	}
	if got := l.SuppressedCount("rule-1"); got != 2 {
		t.Errorf("SuppressedCount() = %d, want 2", got)
	}
}

func TestLedger_AllowPassesOnceCooldownElapses(t *testing.T) {
	l := New(60, 10)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	l.now = func() time.Time { return now }

	l.Allow("rule-1", false)

	now = start.Add(60 * time.Second)
	if !l.Allow("rule-1", false) {
		t.Error("Allow() at exactly the cooldown boundary should succeed")
	}
	if got := l.SuppressedCount("rule-1"); got != 0 {
		t.Errorf("SuppressedCount() = %d, want 0 (no suppression occurred)", got)
	}
}

func TestLedger_AllowForceBypassesCooldown(t *testing.T) {
	l := New(900, 10)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	l.now = func() time.Time { return now }

	l.Allow("rule-1", false)

	now = start.Add(time.Second)
	if !l.Allow("rule-1", true) {
		t.Error("Allow(force=true) should bypass the cooldown window")
	}
	if got := l.SuppressedCount("rule-1"); got != 0 {
		t.Errorf("SuppressedCount() after forced allow = %d, want 0", got)
	}
}

func TestLedger_SuppressedCountIsPerRule(t *testing.T) {
	l := New(60, 10)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	l.now = func() time.Time { return now }

	l.Allow("rule-a", false)
	l.Allow("rule-b", false)

	now = start.Add(time.Second)
	l.Allow("rule-a", false)
	l.Allow("rule-a", false)

	if got := l.SuppressedCount("rule-a"); got != 2 {
		t.Errorf("SuppressedCount(rule-a) = %d, want 2", got)
	}
	if got := l.SuppressedCount("rule-b"); got != 0 {
		t.Errorf("SuppressedCount(rule-b) = %d, want 0", got)
	}
}

func TestLedger_EntryReflectsLastFiredAndSuppressed(t *testing.T) {
	l := New(60, 10)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	l.now = func() time.Time { return now }

	l.Allow("rule-1", false)
	now = start.Add(10 * time.Second)
	l.Allow("rule-1", false)

	entry := l.Entry("rule-1")
	if entry.RuleID != "rule-1" {
		t.Errorf("Entry.RuleID = %q, want %q", entry.RuleID, "rule-1")
	}
	if !entry.LastFiredAt.Equal(start) {
		t.Errorf("Entry.LastFiredAt = %v, want %v", entry.LastFiredAt, start)
	}
	if entry.SuppressedCount != 1 {
		t.Errorf("Entry.SuppressedCount = %d, want 1", entry.SuppressedCount)
	}
}

func TestLedger_HistoryRetainsMostRecentWithinCap(t *testing.T) {
	l := New(60, 3)
	for i := 0; i < 5; i++ {
		l.Record(domain.Alert{ID: string(rune('a' + i))})
	}

	hist := l.History()
	if len(hist) != 3 {
		t.Fatalf("History() len = %d, want cap 3", len(hist))
	}
	want := []string{"c", "d", "e"}
	for i, w := range want {
		if hist[i].ID != w {
			t.Errorf("History()[%d].ID = %q, want %q", i, hist[i].ID, w)
		}
	}
}

func TestLedger_DefaultsAppliedForNonPositiveInputs(t *testing.T) {
	l := New(0, 0)
	if l.CooldownSeconds() != DefaultCooldownSeconds {
		t.Errorf("CooldownSeconds() = %v, want default %v", l.CooldownSeconds(), DefaultCooldownSeconds)
	}
}

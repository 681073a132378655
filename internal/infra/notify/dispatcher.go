package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hydroloop/gateway/internal/domain"
	"github.com/hydroloop/gateway/internal/infra/cooldown"
	"github.com/hydroloop/gateway/internal/infra/escalation"
	"github.com/hydroloop/gateway/internal/infra/metrics"
)

// Tier maps a severity to the ordered set of channel names that should
// receive it, per spec §4.4's routing table. Each tier includes every
// channel of the tiers below it.
var Tier = map[domain.Severity][]string{
	domain.SeverityInfo:       {"console", "push"},
	domain.SeverityPreventive: {"console", "push"},
	domain.SeverityWarning:    {"console", "push", "email"},
	domain.SeverityCritical:   {"console", "push", "email", "sms"},
	domain.SeverityEmergency:  {"console", "push", "email", "sms", "whatsapp"},
}

// Dispatcher fans an alert out to every available channel in its
// severity's tier, consulting the cooldown ledger first and opening
// escalation tracking on a successful (non-suppressed) fire.
type Dispatcher struct {
	channels   map[string]domain.NotificationChannel
	ledger     *cooldown.Ledger
	escalation *escalation.Manager
	logger     *log.Logger
	now        func() time.Time
}

// NewDispatcher wires a dispatcher from its channel set, cooldown ledger,
// and escalation manager. Channels not present in chans are simply
// skipped when a tier names them.
func NewDispatcher(chans []domain.NotificationChannel, ledger *cooldown.Ledger, mgr *escalation.Manager, logger *log.Logger) *Dispatcher {
	m := make(map[string]domain.NotificationChannel, len(chans))
	for _, c := range chans {
		m[c.Name()] = c
	}
	return &Dispatcher{channels: m, ledger: ledger, escalation: mgr, logger: logger, now: time.Now}
}

// Notify resolves the channel set for severity, checks the cooldown
// ledger, renders the subject/body, fans Send out in parallel across
// available channels, records the result to history, and — if not
// suppressed — opens escalation tracking at the severity's starting
// level. Returns the recorded Alert (Suppressed set if cooldown denied).
func (d *Dispatcher) Notify(ctx context.Context, ruleID, ruleName string, sev domain.Severity, reason string, value, threshold float64, recommendedAction string, snapshot map[string]float64, force bool) domain.Alert {
	alert := domain.Alert{
		ID:                uuid.NewString(),
		Timestamp:         d.now(),
		RuleID:            ruleID,
		Severity:          sev,
		Message:           reason,
		SensorSnapshot:    snapshot,
		RecommendedAction: recommendedAction,
	}

	if !d.ledger.Allow(ruleID, force) {
		alert.Suppressed = true
		d.ledger.Record(alert)
		metrics.NotificationsSuppressed.Inc()
		return alert
	}

	subject := Subject(ruleName, sev)
	body := Body(reason, value, threshold, recommendedAction, snapshot)
	alert.ChannelResults = d.fanOut(ctx, sev, subject, body)

	d.ledger.Record(alert)

	startLevel := domain.LevelPreventive
	switch sev {
	case domain.SeverityWarning:
		startLevel = domain.LevelWarning
	case domain.SeverityCritical:
		startLevel = domain.LevelCritical
	case domain.SeverityEmergency:
		startLevel = domain.LevelEmergency
	}
	if sev != domain.SeverityInfo {
		d.escalation.Open(ruleID, startLevel, snapshot)
	}

	return alert
}

// Escalate satisfies escalation.Notifier: re-notify ruleID at an
// escalated level, bypassing cooldown (escalation transitions are never
// suppressed — they are the mechanism that overrides a stale cooldown).
func (d *Dispatcher) Escalate(ctx context.Context, ruleID string, level domain.EscalationLevel, sensorSnapshot map[string]float64) bool {
	sev := level.Severity()
	metrics.EscalationsFired.WithLabelValues(string(sev)).Inc()
	subject := Subject(ruleID, sev)
	body := Body("escalation: alert still unresolved", 0, 0, "", sensorSnapshot)
	results := d.fanOut(ctx, sev, subject, body)
	ok := false
	for _, sent := range results {
		ok = ok || sent
	}
	d.ledger.Record(domain.Alert{
		ID:             uuid.NewString(),
		Timestamp:      d.now(),
		RuleID:         ruleID,
		Severity:       sev,
		Message:        "escalation re-notify",
		SensorSnapshot: sensorSnapshot,
		ChannelResults: results,
	})
	return ok
}

// NotifyFailure satisfies hvac.AlertSink: a vendor call failing past its
// debounce window gets routed through the same critical-severity path as
// any other rule firing. It does not force past cooldown — the ledger has
// no record for "hvac:<zone>" on the first failure, so Allow admits that
// one on its own; forcing every call would re-flood every channel on each
// subsequent failure during a sustained outage instead of respecting the
// cooldown window like any other rule.
func (d *Dispatcher) NotifyFailure(zone, message string) {
	d.Notify(context.Background(), "hvac:"+zone, "HVAC "+zone, domain.SeverityCritical, message, 0, 0, "", nil, false)
}

func (d *Dispatcher) fanOut(ctx context.Context, sev domain.Severity, subject, body string) map[string]bool {
	names := Tier[sev]
	results := make(map[string]bool, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		ch, ok := d.channels[name]
		if !ok || !ch.IsAvailable() {
			continue
		}
		wg.Add(1)
		go func(ch domain.NotificationChannel) {
			defer wg.Done()
			sent := ch.Send(ctx, subject, body, sev)
			mu.Lock()
			results[ch.Name()] = sent
			mu.Unlock()
			outcome := "sent"
			if !sent {
				outcome = "failed"
				d.logger.Printf("notify: channel %s failed for severity %s", ch.Name(), sev)
			}
			metrics.NotificationsSent.WithLabelValues(ch.Name(), outcome).Inc()
		}(ch)
	}
	wg.Wait()
	return results
}

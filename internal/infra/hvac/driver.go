// Package hvac drives the upstream AC vendor API (C12): cached desired
// state, a debounce window to stop flapping short cycles, and a circuit
// breaker adapted from the reference healing package's CircuitBreaker so a
// flaky vendor endpoint degrades to alert-history logging instead of
// hammering a dead upstream.
package hvac

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hydroloop/gateway/internal/domain"
	"github.com/hydroloop/gateway/internal/infra/metrics"
)

// CBState is the circuit breaker's three-state machine.
type CBState int

const (
	CBClosed CBState = iota
	CBOpen
	CBHalfOpen
)

func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "CLOSED"
	case CBOpen:
		return "OPEN"
	case CBHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned by Allow when the breaker is tripped.
var ErrCircuitOpen = errors.New("hvac circuit breaker open")

// breakerConfig mirrors the reference healing package's CircuitBreakerConfig,
// tuned for a single vendor endpoint instead of a fleet of worker nodes.
type breakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenMax      int
}

func defaultBreakerConfig() breakerConfig {
	return breakerConfig{FailureThreshold: 3, ResetTimeout: 60 * time.Second, HalfOpenMax: 2}
}

type breaker struct {
	mu        sync.Mutex
	cfg       breakerConfig
	state     CBState
	failures  int
	successes int
	trippedAt time.Time
	now       func() time.Time
}

func newBreaker(cfg breakerConfig) *breaker {
	return &breaker{cfg: cfg, state: CBClosed, now: time.Now}
}

func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CBOpen:
		if b.now().Sub(b.trippedAt) >= b.cfg.ResetTimeout {
			b.state = CBHalfOpen
			b.successes = 0
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CBHalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenMax {
			b.state = CBClosed
			b.failures = 0
		}
	case CBClosed:
		if b.failures > 0 {
			b.failures--
		}
	}
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CBClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = CBOpen
			b.trippedAt = b.now()
		}
	case CBHalfOpen:
		b.state = CBOpen
		b.trippedAt = b.now()
	}
}

func (b *breaker) State() CBState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// State is the cached desired AC state for one zone.
type State struct {
	Power      bool
	Mode       domain.ACCommand
	TargetTemp float64
	SetAt      time.Time
}

// AlertSink receives a message when a vendor call fails past the debounce
// window, so the failure surfaces through the normal alert-history path
// instead of being silently dropped.
type AlertSink interface {
	NotifyFailure(zone, message string)
}

const defaultDebounce = 10 * time.Second

// Driver caches per-zone AC state and relays changes to the vendor API.
type Driver struct {
	mu        sync.Mutex
	state     map[string]State
	breakers  map[string]*breaker
	baseURL   string
	client    *http.Client
	debounce  time.Duration
	alerts    AlertSink
	now       func() time.Time
}

// New creates an HVAC driver pointed at baseURL (the vendor API root).
func New(baseURL string, alerts AlertSink) *Driver {
	return &Driver{
		state:    make(map[string]State),
		breakers: make(map[string]*breaker),
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 5 * time.Second},
		debounce: defaultDebounce,
		alerts:   alerts,
		now:      time.Now,
	}
}

// notifyFailure relays a failure to the configured AlertSink, if any. A
// nil sink (as in tests that construct a Driver without one) is a no-op
// rather than a panic.
func (d *Driver) notifyFailure(zone, message string) {
	if d.alerts == nil {
		return
	}
	d.alerts.NotifyFailure(zone, message)
}

func (d *Driver) breakerFor(zone string) *breaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.breakers[zone]
	if !ok {
		b = newBreaker(defaultBreakerConfig())
		d.breakers[zone] = b
	}
	return b
}

// Set applies a desired AC command for zone, debounced against the last
// applied change and gated by the zone's circuit breaker. A command
// identical (same mode and target temperature) to the last applied one
// and within its debounce window is a silent no-op; a differing command
// is sent at once.
func (d *Driver) Set(ctx context.Context, zone string, cmd domain.ACCommand, targetTemp float64) error {
	d.mu.Lock()
	last, ok := d.state[zone]
	now := d.now()
	if ok && now.Sub(last.SetAt) < d.debounce && last.Mode == cmd && last.TargetTemp == targetTemp {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	b := d.breakerFor(zone)
	if err := b.allow(); err != nil {
		metrics.HVACBreakerState.WithLabelValues(zone).Set(float64(b.State()))
		metrics.HVACCalls.WithLabelValues(zone, "breaker_open").Inc()
		d.notifyFailure(zone, fmt.Sprintf("hvac circuit open for zone %s, command %s dropped", zone, cmd))
		return err
	}

	if err := d.call(ctx, zone, cmd, targetTemp); err != nil {
		b.recordFailure()
		metrics.HVACBreakerState.WithLabelValues(zone).Set(float64(b.State()))
		metrics.HVACCalls.WithLabelValues(zone, "error").Inc()
		d.notifyFailure(zone, fmt.Sprintf("hvac vendor call failed for zone %s: %v", zone, err))
		return err
	}
	b.recordSuccess()
	metrics.HVACBreakerState.WithLabelValues(zone).Set(float64(b.State()))
	metrics.HVACCalls.WithLabelValues(zone, "ok").Inc()

	d.mu.Lock()
	d.state[zone] = State{Power: cmd != domain.ACOff, Mode: cmd, TargetTemp: targetTemp, SetAt: now}
	d.mu.Unlock()
	return nil
}

// Get returns the cached state for zone.
func (d *Driver) Get(zone string) (State, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.state[zone]
	return s, ok
}

func (d *Driver) call(ctx context.Context, zone string, cmd domain.ACCommand, targetTemp float64) error {
	url := fmt.Sprintf("%s/zones/%s/command", d.baseURL, zone)
	body := strings.NewReader(fmt.Sprintf(`{"command":%q,"target_temp":%g}`, cmd, targetTemp))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return domain.NewTransientError("hvac vendor unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return domain.NewTransientError(fmt.Sprintf("hvac vendor returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return domain.NewPermanentError(fmt.Sprintf("hvac vendor rejected command: %d", resp.StatusCode), nil)
	}
	return nil
}

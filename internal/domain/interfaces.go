package domain

import (
	"context"
	"time"
)

// NotificationChannel is a pluggable alert sink (console, push, email,
// sms, whatsapp). Implementations must be safe for concurrent Send calls.
type NotificationChannel interface {
	Name() string
	IsAvailable() bool
	Send(ctx context.Context, subject, body string, severity Severity) bool
}

// TSPoint is one row handed to the time-series writer: a measurement name
// plus a flat field set, keyed by sensor/source.
type TSPoint struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]float64
	At          time.Time
}

// TimeSeriesWriter accepts points for buffered, batched persistence (C1).
type TimeSeriesWriter interface {
	Write(p TSPoint)
	Flush(ctx context.Context) error
	Close() error
}

// EvaluationContext is what the rule engine consults for one reading: the
// reading's fields plus derived features, an external-context snapshot,
// and any stage-overlay rules active for the sensor's crop.
type EvaluationContext struct {
	SensorID  string
	At        time.Time
	Values    map[string]float64 // reading fields + derived features merged
	External  ContextSnapshot
	Overlay   []Rule // stage-specific rules for this sensor_id, if any
	ForceMode bool   // bypasses cooldown (test endpoint)
}

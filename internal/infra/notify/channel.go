// Package notify implements the pluggable notification sinks (C4):
// console, push (ntfy), email (SMTP), sms and whatsapp (Twilio REST).
// None of these providers has an ecosystem Go client anywhere in the
// reference corpus, so each is a small net/http (or net/smtp) client —
// the same raw-HTTP texture the reference node's model downloader and
// the reference alerts engine's webhook delivery both use.
package notify

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hydroloop/gateway/internal/domain"
)

// emojiForSeverity renders the subject glyph used by the wire contract's
// "short title including emoji glyph by severity".
func emojiForSeverity(sev domain.Severity) string {
	switch sev {
	case domain.SeverityInfo:
		return "ℹ️"
	case domain.SeverityPreventive:
		return "🟡"
	case domain.SeverityWarning:
		return "⚠️"
	case domain.SeverityCritical:
		return "🔴"
	case domain.SeverityEmergency:
		return "🚨"
	default:
		return "•"
	}
}

// Subject renders the channel-agnostic alert subject line.
func Subject(ruleName string, sev domain.Severity) string {
	return fmt.Sprintf("%s %s", emojiForSeverity(sev), ruleName)
}

// Body renders the channel-agnostic multi-line alert body: reason,
// current value vs threshold, recommended action, sensor snapshot.
func Body(reason string, value, threshold float64, recommendedAction string, snapshot map[string]float64) string {
	body := fmt.Sprintf("%s\ncurrent: %.2f (threshold: %.2f)", reason, value, threshold)
	if recommendedAction != "" {
		body += "\nrecommended action: " + recommendedAction
	}
	if len(snapshot) > 0 {
		body += "\nsnapshot:"
		for k, v := range snapshot {
			body += fmt.Sprintf("\n  %s=%.2f", k, v)
		}
	}
	return body
}

// httpClient is shared across the HTTP-backed channels; 5s deadline per
// the outbound-I/O default in the concurrency model.
var httpClient = &http.Client{Timeout: 5 * time.Second}

// ConsoleChannel always reports available and logs to the daemon log.
type ConsoleChannel struct {
	logger *log.Logger
}

// NewConsoleChannel creates the always-on console sink.
func NewConsoleChannel(logger *log.Logger) *ConsoleChannel {
	return &ConsoleChannel{logger: logger}
}

func (c *ConsoleChannel) Name() string      { return "console" }
func (c *ConsoleChannel) IsAvailable() bool { return true }

func (c *ConsoleChannel) Send(ctx context.Context, subject, body string, severity domain.Severity) bool {
	c.logger.Printf("[%s] %s\n%s", severity, subject, body)
	return true
}

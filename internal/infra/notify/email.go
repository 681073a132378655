package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/hydroloop/gateway/internal/domain"
)

// EmailChannel delivers alerts over SMTP with PLAIN auth. Available iff
// host, from, and at least one recipient are configured.
type EmailChannel struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	To       []string
}

// NewEmailChannel creates the SMTP sink.
func NewEmailChannel(host, port, username, password, from string, to []string) *EmailChannel {
	return &EmailChannel{Host: host, Port: port, Username: username, Password: password, From: from, To: to}
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) IsAvailable() bool {
	return e.Host != "" && e.From != "" && len(e.To) > 0
}

func (e *EmailChannel) Send(ctx context.Context, subject, body string, severity domain.Severity) bool {
	if !e.IsAvailable() {
		return false
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		e.From, strings.Join(e.To, ", "), subject, body)

	addr := e.Host + ":" + e.Port
	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.Host)
	}

	// net/smtp has no context-aware variant; ctx is not consulted, and the
	// send is bounded only by the underlying net.Dial default OS timeout.
	// The dispatcher applies no deadline of its own around Send.
	err := smtp.SendMail(addr, auth, e.From, e.To, []byte(msg))
	return err == nil
}

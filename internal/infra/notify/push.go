package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/hydroloop/gateway/internal/domain"
)

// PushChannel publishes to an ntfy.sh-compatible topic. Available iff
// both NTFY_URL and NTFY_TOPIC are configured (spec §6: "a channel is
// available iff its complete credential set is non-empty").
type PushChannel struct {
	URL   string
	Topic string
}

// NewPushChannel creates the ntfy push sink.
func NewPushChannel(url, topic string) *PushChannel {
	return &PushChannel{URL: url, Topic: topic}
}

func (p *PushChannel) Name() string { return "push" }

func (p *PushChannel) IsAvailable() bool {
	return p.URL != "" && p.Topic != ""
}

func (p *PushChannel) Send(ctx context.Context, subject, body string, severity domain.Severity) bool {
	if !p.IsAvailable() {
		return false
	}
	url := fmt.Sprintf("%s/%s", p.URL, p.Topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		return false
	}
	req.Header.Set("Title", subject)
	req.Header.Set("Priority", priorityFor(severity))

	resp, err := httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func priorityFor(sev domain.Severity) string {
	switch sev {
	case domain.SeverityEmergency:
		return "urgent"
	case domain.SeverityCritical:
		return "high"
	case domain.SeverityWarning:
		return "default"
	default:
		return "low"
	}
}

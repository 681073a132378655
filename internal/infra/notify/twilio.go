package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hydroloop/gateway/internal/domain"
)

// twilioChannel is the shared shape for the sms and whatsapp channels,
// which differ only in the From/To number prefix Twilio expects.
type twilioChannel struct {
	name       string
	accountSID string
	authToken  string
	from       string
	to         string
	prefix     string // "" for sms, "whatsapp:" for whatsapp
}

func (t *twilioChannel) Name() string { return t.name }

func (t *twilioChannel) IsAvailable() bool {
	return t.accountSID != "" && t.authToken != "" && t.from != "" && t.to != ""
}

func (t *twilioChannel) Send(ctx context.Context, subject, body string, severity domain.Severity) bool {
	if !t.IsAvailable() {
		return false
	}

	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", t.accountSID)
	form := url.Values{}
	form.Set("From", t.prefix+t.from)
	form.Set("To", t.prefix+t.to)
	form.Set("Body", subject+"\n"+body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.accountSID, t.authToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// SMSChannel sends plain SMS via the Twilio REST API.
type SMSChannel struct{ *twilioChannel }

// NewSMSChannel creates the Twilio SMS sink.
func NewSMSChannel(accountSID, authToken, from, to string) *SMSChannel {
	return &SMSChannel{&twilioChannel{name: "sms", accountSID: accountSID, authToken: authToken, from: from, to: to}}
}

// WhatsAppChannel sends via Twilio's WhatsApp sender.
type WhatsAppChannel struct{ *twilioChannel }

// NewWhatsAppChannel creates the Twilio WhatsApp sink.
func NewWhatsAppChannel(accountSID, authToken, from, to string) *WhatsAppChannel {
	return &WhatsAppChannel{&twilioChannel{name: "whatsapp", accountSID: accountSID, authToken: authToken, from: from, to: to, prefix: "whatsapp:"}}
}

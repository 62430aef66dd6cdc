package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// WebhookChannel POSTs alerts as JSON to a configured URL. The payload plays
// nice with Slack-compatible receivers by carrying a rendered `text` field
// beside the structured alert.
type WebhookChannel struct {
	url string
	hc  *http.Client
}

// NewWebhookChannel builds a channel for the given URL.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url: url,
		hc:  &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Text  string       `json:"text"`
	Alert domain.Alert `json:"alert"`
}

// Send posts the alert; anything but a 2xx is an error.
func (c *WebhookChannel) Send(ctx domain.Context, a domain.Alert) error {
	payload := webhookPayload{
		Text:  fmt.Sprintf("[%s] %s: %s", a.Severity, a.Title, a.Body),
		Alert: a,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=notify.webhook: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("op=notify.webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("op=notify.webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=notify.webhook: status %d", resp.StatusCode)
	}
	return nil
}

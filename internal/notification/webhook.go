package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
)

// Webhook event names.
const (
	EventLevelNear = "level.near"
	EventAlert     = "alert"
)

// WebhookNotifier POSTs alerts as JSON events.
type WebhookNotifier struct {
	url    string
	client *http.Client
	clock  clock.Clock
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		clock:  clock.New(),
	}
}

// webhookEvent is the body of one POST.
type webhookEvent struct {
	Event string `json:"event"`
	Alert
	TS string `json:"ts"`
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	ev := webhookEvent{Event: EventAlert, Alert: alert, TS: w.clock.Now().UTC().Format(time.RFC3339Nano)}
	if alert.IsLevel() {
		ev.Event = EventLevelNear
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}

	log.Printf("[webhook] %s for %s", ev.Event, alert.Symbol)
	return nil
}

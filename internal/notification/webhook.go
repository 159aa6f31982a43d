package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// WebhookNotifier POSTs trade alerts as JSON to an HTTP endpoint.
// Alerts for the same action kind within the dedup window are dropped
// so a flatten retried through several code paths notifies once.
type WebhookNotifier struct {
	url    string
	client *http.Client

	mu       sync.Mutex
	dedup    time.Duration
	lastSent map[string]time.Time // action -> last delivery
}

// NewWebhookNotifier creates a webhook notifier. dedupWindow of zero
// disables deduplication.
func NewWebhookNotifier(url string, timeout, dedupWindow time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		dedup:    dedupWindow,
		lastSent: make(map[string]time.Time),
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert TradeAlert) error {
	if w.dedup > 0 {
		w.mu.Lock()
		if last, ok := w.lastSent[alert.Action]; ok && time.Since(last) < w.dedup {
			w.mu.Unlock()
			log.Printf("[webhook] suppressed duplicate %s alert within %s", alert.Action, w.dedup)
			return nil
		}
		w.lastSent[alert.Action] = time.Now()
		w.mu.Unlock()
	}

	body, err := json.Marshal(alert)
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

	log.Printf("[webhook] sent %s %s qty=%d to %s", alert.Action, alert.Symbol, alert.Qty, w.url)
	return nil
}

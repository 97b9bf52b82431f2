package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/banshee-data/perimeter.watch/internal/httputil"
)

// WebhookChannel POSTs the alert as JSON to a configured URL.
// Config keys: url (required).
type WebhookChannel struct {
	Client httputil.HTTPClient
}

// NewWebhookChannel creates a webhook channel. A nil client uses
// http.DefaultClient.
func NewWebhookChannel(client httputil.HTTPClient) *WebhookChannel {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &WebhookChannel{Client: client}
}

func (c *WebhookChannel) Type() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, cfg map[string]string, a Alert) error {
	url := cfg["url"]
	if url == "" {
		return fmt.Errorf("webhook: missing url")
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("webhook: encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: %s returned %d", url, resp.StatusCode)
	}
	return nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookConfig configures the webhook backend.
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

type webhookPayload struct {
	ID       string    `json:"id"`
	Endpoint string    `json:"endpoint"`
	Guardian string    `json:"guardian"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	SentAt   time.Time `json:"sent_at"`
}

// WebhookPublisher POSTs remote notifications as JSON to a fixed URL.
type WebhookPublisher struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookPublisher returns a publisher for cfg. A zero timeout defaults
// to five seconds.
func NewWebhookPublisher(cfg WebhookConfig) *WebhookPublisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &WebhookPublisher{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Publish implements RemotePublisher. Any non-2xx response is an error.
func (p *WebhookPublisher) Publish(ctx context.Context, endpoint string, msg Message) error {
	body, err := json.Marshal(webhookPayload{
		ID:       msg.ID,
		Endpoint: endpoint,
		Guardian: msg.Guardian.Name,
		Title:    msg.Title,
		Body:     msg.Body,
		SentAt:   msg.At,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-SafeSpaces-Event", "notification")
	req.Header.Set("X-SafeSpaces-Delivery", msg.ID)
	if p.cfg.Secret != "" {
		req.Header.Set("X-SafeSpaces-Secret", p.cfg.Secret)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook post: unexpected status %d", resp.StatusCode)
	}
	return nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/droplog/droplog/internal/drops"
)

// Credentials resolves the webhook target at send time so changes made with
// "droplog webhook set" apply to a running tracker. *drops.Store satisfies it.
type Credentials interface {
	Webhook(ctx context.Context) (drops.Webhook, error)
}

// WebhookSink posts BuildPayload output to a Discord-style webhook.
type WebhookSink struct {
	creds    Credentials
	fallback drops.Webhook
	http     *http.Client
}

// NewWebhookSink returns a sink that prefers stored credentials and falls back
// to the configured ones. Sends are skipped when neither has a URL.
func NewWebhookSink(creds Credentials, fallback drops.Webhook, timeout time.Duration) *WebhookSink {
	return &WebhookSink{
		creds:    creds,
		fallback: fallback,
		http:     &http.Client{Timeout: timeout},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) target(ctx context.Context) (drops.Webhook, error) {
	if s.creds != nil {
		w, err := s.creds.Webhook(ctx)
		if err != nil {
			return drops.Webhook{}, fmt.Errorf("load webhook credentials: %w", err)
		}
		if w.URL != "" {
			return w, nil
		}
	}
	return s.fallback, nil
}

func (s *WebhookSink) Send(ctx context.Context, n Notification) error {
	target, err := s.target(ctx)
	if err != nil {
		return err
	}
	if target.URL == "" {
		return nil
	}

	body, err := json.Marshal(BuildPayload(n, target.UserID))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

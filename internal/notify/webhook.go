package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultWebhookTimeout = 10 * time.Second
	maxErrorBodyBytes     = 2048
)

// WebhookDispatcher POSTs each push as JSON to a fixed URL, throttled by a token bucket.
type WebhookDispatcher struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

type webhookPayload struct {
	OwnerID string `json:"owner_id"`
	Push
}

func NewWebhookDispatcher(url string, ratePerSec float64, burst int) *WebhookDispatcher {
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &WebhookDispatcher{
		url:     strings.TrimSpace(url),
		client:  &http.Client{Timeout: DefaultWebhookTimeout},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

func (d *WebhookDispatcher) SendPush(ctx context.Context, ownerID string, push Push) error {
	if d == nil || d.url == "" {
		return fmt.Errorf("webhook dispatcher is not configured")
	}
	if strings.TrimSpace(ownerID) == "" {
		return fmt.Errorf("owner id is required")
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for push rate limit: %w", err)
	}

	body, err := json.Marshal(webhookPayload{OwnerID: ownerID, Push: push})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("push webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/seantiz/warden/internal/model"
)

const webhookTimeout = 30 * time.Second

// Webhook delivers job results as JSON POSTs to the reporting collaborator's
// endpoint. A 429 or any 5xx response maps to ErrRetryLater so the engine's
// backoff applies; other non-2xx responses are permanent failures.
type Webhook struct {
	URL    string
	Client *http.Client
}

// NewWebhook creates a webhook handler posting to url.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: webhookTimeout},
	}
}

// Deliver posts the result to the configured endpoint.
func (h *Webhook) Deliver(ctx context.Context, res *model.JobResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post result: %w", ErrRetryLater)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("endpoint returned %d: %w", resp.StatusCode, ErrRetryLater)
	default:
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
}

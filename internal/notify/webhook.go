package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// WebhookSubscriber POSTs every event as JSON to an HTTP endpoint, typically
// an orchestrator's /notify route.
type WebhookSubscriber struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWebhookSubscriber creates a webhook subscriber for url.
func NewWebhookSubscriber(url string, logger *zap.Logger) *WebhookSubscriber {
	return &WebhookSubscriber{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.Named("webhook"),
	}
}

// Deliver sends the event. Any non-2xx response is an error.
func (w *WebhookSubscriber) Deliver(ctx context.Context, event domain.AllocationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}

	w.logger.Debug("Delivered event",
		zap.String("url", w.url),
		zap.String("vm_id", event.VMID),
		zap.String("host_id", event.HostID),
	)
	return nil
}

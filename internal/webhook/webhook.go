package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/hacktisch/mailcow-status-tracker/internal/config"
	"github.com/hacktisch/mailcow-status-tracker/internal/metrics"
	"github.com/hacktisch/mailcow-status-tracker/internal/models"
	"github.com/hacktisch/mailcow-status-tracker/internal/store"
)

// Dispatcher forwards undelivered status rows to the configured webhook
// destination and records the outcome in the tri-state webhook flag:
// delivered rows are flagged 1, rows with no destination configured are
// flagged -1 and never retried, and failed attempts leave the flag at 0 so
// the next sync cycle tries again. The destination must tolerate
// at-least-once delivery.
type Dispatcher struct {
	store   *store.Store
	client  *http.Client
	url     string
	metrics *metrics.Metrics
}

// New creates a new webhook dispatcher. An empty URL means no destination is
// configured.
func New(s *store.Store, cfg *config.WebhookConfig, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		store:   s,
		client:  &http.Client{Timeout: cfg.Timeout},
		url:     cfg.URL,
		metrics: m,
	}
}

// Dispatch attempts delivery for every pending status row with a known
// message id and returns the number delivered. Each row is attempted
// independently; one failure never blocks the others.
func (d *Dispatcher) Dispatch(ctx context.Context) int {
	rows, err := d.store.PendingWebhooks()
	if err != nil {
		logrus.Errorf("Failed to select pending webhooks: %v", err)
		return 0
	}

	sent := 0
	for _, row := range rows {
		if d.url == "" {
			if err := d.store.SetWebhookFlag(row.ID, models.WebhookSkipped); err != nil {
				logrus.Errorf("Failed to flag status %d as skipped: %v", row.ID, err)
				continue
			}
			d.metrics.WebhookSkips.Inc()
			continue
		}

		if err := d.deliver(ctx, row); err != nil {
			// Flag stays pending; the next cycle retries
			logrus.Errorf("Webhook failed for queue id %s: %v", row.QueueID, err)
			d.metrics.WebhookFailures.Inc()
			continue
		}

		if err := d.store.SetWebhookFlag(row.ID, models.WebhookDelivered); err != nil {
			logrus.Errorf("Failed to flag status %d as delivered: %v", row.ID, err)
			continue
		}
		d.metrics.WebhookSuccesses.Inc()
		sent++
	}

	return sent
}

// Configured reports whether a destination URL is set
func (d *Dispatcher) Configured() bool {
	return d.url != ""
}

func (d *Dispatcher) deliver(ctx context.Context, row store.PendingStatus) error {
	payload := models.WebhookPayload{
		QueueID:     row.QueueID,
		Timestamp:   row.Timestamp,
		Status:      row.Status,
		Description: row.Description,
		MessageID:   row.MessageID,
	}
	if row.Recipient != nil {
		payload.Recipient = *row.Recipient
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/flowledger/flowledger/pkg/alerting"
)

// WebhookConfig holds settings for a generic JSON webhook target.
type WebhookConfig struct {
	URL string `json:"url"`
	// Headers are set verbatim on every request, e.g. an Authorization
	// header for the receiving endpoint
	Headers map[string]string `json:"headers"`
	// Source identifies the emitting deployment in the payload
	Source string `json:"source"`
}

// WebhookChannel delivers alerts as JSON to an arbitrary HTTP endpoint.
type WebhookChannel struct {
	config WebhookConfig
	logger *zap.Logger
	client *http.Client
}

// WebhookPayload is the envelope posted to the endpoint.
type WebhookPayload struct {
	Source string          `json:"source"`
	Event  string          `json:"event"`
	Alert  *alerting.Alert `json:"alert"`
	SentAt time.Time       `json:"sent_at"`
}

// EventAlertTriggered and EventAlertResolved name the webhook envelope
// events.
const (
	EventAlertTriggered = "alert.triggered"
	EventAlertResolved  = "alert.resolved"
)

// NewWebhookChannel creates a generic webhook notification channel
func NewWebhookChannel(config WebhookConfig, logger *zap.Logger) *WebhookChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Source == "" {
		config.Source = "flowledger"
	}

	return &WebhookChannel{
		config: config,
		logger: logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the channel name
func (c *WebhookChannel) Name() string {
	return "webhook"
}

// Send posts the alert envelope to the configured endpoint. Any 2xx
// response counts as delivered.
func (c *WebhookChannel) Send(ctx context.Context, alert *alerting.Alert) error {
	if c.config.URL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	event := EventAlertTriggered
	if alert.Resolved {
		event = EventAlertResolved
	}

	payload, err := json.Marshal(WebhookPayload{
		Source: c.config.Source,
		Event:  event,
		Alert:  alert,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	c.logger.Info("Sent webhook alert notification",
		zap.String("alert_id", alert.ID),
		zap.String("event", event),
		zap.String("webhook_url", maskWebhookURL(c.config.URL)))

	return nil
}

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

// SlackConfig holds the incoming-webhook settings for one Slack target.
type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
	Channel    string `json:"channel"`
	Username   string `json:"username"`
}

// SlackChannel delivers alerts to a Slack incoming webhook.
type SlackChannel struct {
	config SlackConfig
	logger *zap.Logger
	client *http.Client
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Username    string            `json:"username,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackChannel creates a Slack notification channel
func NewSlackChannel(config SlackConfig, logger *zap.Logger) *SlackChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Username == "" {
		config.Username = "FlowLedger"
	}

	return &SlackChannel{
		config: config,
		logger: logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the channel name
func (c *SlackChannel) Name() string {
	return "slack"
}

// Send posts the alert to the configured webhook.
func (c *SlackChannel) Send(ctx context.Context, alert *alerting.Alert) error {
	if c.config.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	payload, err := json.Marshal(c.buildMessage(alert))
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.WebhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	c.logger.Info("Sent Slack alert notification",
		zap.String("alert_id", alert.ID),
		zap.String("severity", string(alert.Severity)),
		zap.String("webhook_url", maskWebhookURL(c.config.WebhookURL)))

	return nil
}

// buildMessage converts an alert to Slack format
func (c *SlackChannel) buildMessage(alert *alerting.Alert) SlackMessage {
	attachment := SlackAttachment{
		Color:  slackColor(alert),
		Title:  alert.Title,
		Text:   alert.Description,
		Footer: "FlowLedger",
	}
	if !alert.Timestamp.IsZero() {
		attachment.Timestamp = alert.Timestamp.Unix()
	}

	if alert.Component != "" {
		attachment.Fields = append(attachment.Fields, SlackField{
			Title: "Component",
			Value: alert.Component,
			Short: true,
		})
	}
	for _, label := range sortedLabels(alert) {
		attachment.Fields = append(attachment.Fields, SlackField{
			Title: label[0],
			Value: label[1],
			Short: true,
		})
	}

	return SlackMessage{
		Text:        subjectLine(alert),
		Username:    c.config.Username,
		Channel:     c.config.Channel,
		IconEmoji:   slackEmoji(alert),
		Attachments: []SlackAttachment{attachment},
	}
}

func slackColor(alert *alerting.Alert) string {
	if alert.Resolved {
		return "good"
	}
	switch alert.Severity {
	case alerting.SeverityInfo:
		return "#36a64f"
	case alerting.SeverityWarning:
		return "warning"
	case alerting.SeverityCritical, alerting.SeverityFatal:
		return "danger"
	default:
		return "#36a64f"
	}
}

func slackEmoji(alert *alerting.Alert) string {
	if alert.Resolved {
		return ":white_check_mark:"
	}
	switch alert.Severity {
	case alerting.SeverityInfo:
		return ":information_source:"
	case alerting.SeverityWarning:
		return ":warning:"
	case alerting.SeverityCritical, alerting.SeverityFatal:
		return ":rotating_light:"
	default:
		return ":bell:"
	}
}

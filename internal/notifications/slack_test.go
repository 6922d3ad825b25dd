package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/flowledger/flowledger/pkg/alerting"
)

func warningAlert() *alerting.Alert {
	return &alerting.Alert{
		ID:          "rule-high_cpu_usage",
		Title:       "High CPU usage detected",
		Description: "cpu_usage_percent avg at 93.50, threshold > 80.00",
		Severity:    alerting.SeverityWarning,
		Component:   "telemetry",
		Timestamp:   time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
		Labels: map[string]string{
			"rule":     "high_cpu_usage",
			"category": "performance",
		},
	}
}

func TestSlackChannel_Send(t *testing.T) {
	var received SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		err := json.NewDecoder(r.Body).Decode(&received)
		require.NoError(t, err)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewSlackChannel(SlackConfig{
		WebhookURL: server.URL,
		Channel:    "#ops",
		Username:   "FlowLedger",
	}, zaptest.NewLogger(t))

	alert := warningAlert()
	require.NoError(t, channel.Send(context.Background(), alert))

	assert.Equal(t, "[WARNING] High CPU usage detected", received.Text)
	assert.Equal(t, "#ops", received.Channel)
	assert.Equal(t, "FlowLedger", received.Username)
	assert.Equal(t, ":warning:", received.IconEmoji)

	require.Len(t, received.Attachments, 1)
	attachment := received.Attachments[0]
	assert.Equal(t, "warning", attachment.Color)
	assert.Equal(t, alert.Description, attachment.Text)
	assert.Equal(t, "FlowLedger", attachment.Footer)
	assert.Equal(t, alert.Timestamp.Unix(), attachment.Timestamp)

	// Component first, then labels in key order.
	require.Len(t, attachment.Fields, 3)
	assert.Equal(t, SlackField{Title: "Component", Value: "telemetry", Short: true}, attachment.Fields[0])
	assert.Equal(t, SlackField{Title: "category", Value: "performance", Short: true}, attachment.Fields[1])
	assert.Equal(t, SlackField{Title: "rule", Value: "high_cpu_usage", Short: true}, attachment.Fields[2])
}

func TestSlackChannel_Send_CriticalUsesDanger(t *testing.T) {
	var received SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewSlackChannel(SlackConfig{WebhookURL: server.URL}, zaptest.NewLogger(t))

	alert := warningAlert()
	alert.Severity = alerting.SeverityCritical
	require.NoError(t, channel.Send(context.Background(), alert))

	assert.Equal(t, ":rotating_light:", received.IconEmoji)
	assert.Equal(t, "danger", received.Attachments[0].Color)
}

func TestSlackChannel_Send_ResolvedUsesGood(t *testing.T) {
	var received SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewSlackChannel(SlackConfig{WebhookURL: server.URL}, zaptest.NewLogger(t))

	alert := warningAlert()
	alert.Resolved = true
	require.NoError(t, channel.Send(context.Background(), alert))

	assert.Equal(t, "[WARNING] RESOLVED: High CPU usage detected", received.Text)
	assert.Equal(t, ":white_check_mark:", received.IconEmoji)
	assert.Equal(t, "good", received.Attachments[0].Color)
}

func TestSlackChannel_Send_NoWebhookURL(t *testing.T) {
	channel := NewSlackChannel(SlackConfig{}, zaptest.NewLogger(t))

	err := channel.Send(context.Background(), warningAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook URL not configured")
}

func TestSlackChannel_Send_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	channel := NewSlackChannel(SlackConfig{WebhookURL: server.URL}, zaptest.NewLogger(t))

	err := channel.Send(context.Background(), warningAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestSlackChannel_Name(t *testing.T) {
	channel := NewSlackChannel(SlackConfig{}, nil)
	assert.Equal(t, "slack", channel.Name())
}

func TestMaskWebhookURL(t *testing.T) {
	assert.Equal(t, "***", maskWebhookURL("short"))
	assert.Equal(t, "https://hooks.slack.***", maskWebhookURL("https://hooks.slack.com/services/T000/B000/XXXX"))
}

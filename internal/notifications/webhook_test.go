package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWebhookChannel_Send(t *testing.T) {
	var received WebhookPayload
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		authHeader = r.Header.Get("Authorization")

		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		// Any 2xx counts as delivered.
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	channel := NewWebhookChannel(WebhookConfig{
		URL:     server.URL,
		Headers: map[string]string{"Authorization": "Bearer token-123"},
	}, zaptest.NewLogger(t))

	alert := warningAlert()
	require.NoError(t, channel.Send(context.Background(), alert))

	assert.Equal(t, "Bearer token-123", authHeader)
	assert.Equal(t, "flowledger", received.Source)
	assert.Equal(t, EventAlertTriggered, received.Event)
	assert.False(t, received.SentAt.IsZero())

	require.NotNil(t, received.Alert)
	assert.Equal(t, alert.ID, received.Alert.ID)
	assert.Equal(t, alert.Title, received.Alert.Title)
	assert.Equal(t, alert.Severity, received.Alert.Severity)
	assert.Equal(t, alert.Labels, received.Alert.Labels)
}

func TestWebhookChannel_Send_ResolvedEvent(t *testing.T) {
	var received WebhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewWebhookChannel(WebhookConfig{URL: server.URL, Source: "staging"}, zaptest.NewLogger(t))

	alert := warningAlert()
	alert.Resolved = true
	require.NoError(t, channel.Send(context.Background(), alert))

	assert.Equal(t, "staging", received.Source)
	assert.Equal(t, EventAlertResolved, received.Event)
	assert.True(t, received.Alert.Resolved)
}

func TestWebhookChannel_Send_NoURL(t *testing.T) {
	channel := NewWebhookChannel(WebhookConfig{}, zaptest.NewLogger(t))

	err := channel.Send(context.Background(), warningAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestWebhookChannel_Send_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel := NewWebhookChannel(WebhookConfig{URL: server.URL}, zaptest.NewLogger(t))

	err := channel.Send(context.Background(), warningAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestWebhookChannel_Name(t *testing.T) {
	channel := NewWebhookChannel(WebhookConfig{}, nil)
	assert.Equal(t, "webhook", channel.Name())
}

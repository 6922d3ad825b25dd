package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/flowledger/flowledger/pkg/alerting"
)

func TestEmailChannel_Send_NoRecipients(t *testing.T) {
	channel := NewEmailChannel(EmailConfig{SMTPServer: "smtp.example.com"}, zaptest.NewLogger(t))

	err := channel.Send(context.Background(), warningAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipients not configured")
}

func TestEmailChannel_Send_NoServer(t *testing.T) {
	channel := NewEmailChannel(EmailConfig{To: []string{"ops@example.com"}}, zaptest.NewLogger(t))

	err := channel.Send(context.Background(), warningAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMTP server not configured")
}

func TestEmailChannel_BuildMIMEMessage(t *testing.T) {
	channel := NewEmailChannel(EmailConfig{
		SMTPServer: "smtp.example.com",
		From:       "noreply@flowledger.io",
		To:         []string{"ops@example.com", "oncall@example.com"},
	}, zaptest.NewLogger(t))

	message := channel.buildMIMEMessage(warningAlert())

	assert.Contains(t, message, "From: noreply@flowledger.io\r\n")
	assert.Contains(t, message, "To: ops@example.com, oncall@example.com\r\n")
	assert.Contains(t, message, "Subject: [WARNING] High CPU usage detected\r\n")
	assert.Contains(t, message, "Content-Type: text/plain; charset=UTF-8\r\n")
	assert.Contains(t, message, "X-Mailer: FlowLedger\r\n")
	assert.Contains(t, message, "X-Priority: 2\r\n")

	assert.Contains(t, message, "cpu_usage_percent avg at 93.50, threshold > 80.00")
	assert.Contains(t, message, "Component: telemetry\r\n")
	assert.Contains(t, message, "category: performance\r\n")
	assert.Contains(t, message, "rule: high_cpu_usage\r\n")
	assert.Contains(t, message, "Raised at: 2025-06-02T12:00:00Z\r\n")
	assert.NotContains(t, message, "Resolved at:")
}

func TestEmailChannel_BuildMIMEMessage_CriticalPriority(t *testing.T) {
	channel := NewEmailChannel(EmailConfig{
		SMTPServer: "smtp.example.com",
		To:         []string{"ops@example.com"},
	}, zaptest.NewLogger(t))

	alert := warningAlert()
	alert.Severity = alerting.SeverityCritical

	message := channel.buildMIMEMessage(alert)

	assert.Contains(t, message, "X-Priority: 1\r\n")
	assert.Contains(t, message, "Importance: high\r\n")
	// Default sender kicks in when From is left empty.
	assert.Contains(t, message, "From: alerts@flowledger.io\r\n")
}

func TestEmailChannel_BuildMIMEMessage_Resolved(t *testing.T) {
	channel := NewEmailChannel(EmailConfig{
		SMTPServer: "smtp.example.com",
		To:         []string{"ops@example.com"},
	}, zaptest.NewLogger(t))

	resolvedAt := time.Date(2025, 6, 2, 12, 30, 0, 0, time.UTC)
	alert := warningAlert()
	alert.Resolved = true
	alert.ResolvedAt = &resolvedAt

	message := channel.buildMIMEMessage(alert)

	assert.Contains(t, message, "Subject: [WARNING] RESOLVED: High CPU usage detected\r\n")
	assert.Contains(t, message, "Resolved at: 2025-06-02T12:30:00Z\r\n")
}

func TestEmailChannel_Name(t *testing.T) {
	channel := NewEmailChannel(EmailConfig{}, nil)
	assert.Equal(t, "email", channel.Name())
}

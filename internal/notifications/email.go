package notifications

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flowledger/flowledger/pkg/alerting"
)

// EmailConfig holds SMTP settings for the email channel.
type EmailConfig struct {
	SMTPServer string   `json:"smtp_server"`
	SMTPPort   int      `json:"smtp_port"`
	Username   string   `json:"username"`
	Password   string   `json:"password"`
	From       string   `json:"from"`
	To         []string `json:"to"`
}

// EmailChannel delivers alerts over SMTP.
type EmailChannel struct {
	config EmailConfig
	logger *zap.Logger
}

// NewEmailChannel creates an email notification channel
func NewEmailChannel(config EmailConfig, logger *zap.Logger) *EmailChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.From == "" {
		config.From = "alerts@flowledger.io"
	}

	return &EmailChannel{
		config: config,
		logger: logger,
	}
}

// Name returns the channel name
func (c *EmailChannel) Name() string {
	return "email"
}

// Send mails the alert to the configured recipients.
func (c *EmailChannel) Send(ctx context.Context, alert *alerting.Alert) error {
	if len(c.config.To) == 0 {
		return fmt.Errorf("email recipients not configured")
	}
	if c.config.SMTPServer == "" {
		return fmt.Errorf("SMTP server not configured")
	}

	message := c.buildMIMEMessage(alert)
	if err := c.sendMail(ctx, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	c.logger.Info("Sent email alert notification",
		zap.String("alert_id", alert.ID),
		zap.String("severity", string(alert.Severity)),
		zap.Strings("to", c.config.To),
		zap.String("smtp_server", c.config.SMTPServer))

	return nil
}

// buildMIMEMessage renders the alert as a plain-text MIME message.
func (c *EmailChannel) buildMIMEMessage(alert *alerting.Alert) string {
	var message strings.Builder

	message.WriteString(fmt.Sprintf("From: %s\r\n", c.config.From))
	message.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(c.config.To, ", ")))
	message.WriteString(fmt.Sprintf("Subject: %s\r\n", subjectLine(alert)))
	message.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	message.WriteString("MIME-Version: 1.0\r\n")
	message.WriteString("X-Mailer: FlowLedger\r\n")

	switch alert.Severity {
	case alerting.SeverityCritical, alerting.SeverityFatal:
		message.WriteString("X-Priority: 1\r\n")
		message.WriteString("Importance: high\r\n")
	case alerting.SeverityWarning:
		message.WriteString("X-Priority: 2\r\n")
	default:
		message.WriteString("X-Priority: 3\r\n")
	}

	message.WriteString("\r\n")
	message.WriteString(alert.Description)
	message.WriteString("\r\n\r\n")
	if alert.Component != "" {
		message.WriteString(fmt.Sprintf("Component: %s\r\n", alert.Component))
	}
	for _, label := range sortedLabels(alert) {
		message.WriteString(fmt.Sprintf("%s: %s\r\n", label[0], label[1]))
	}
	if !alert.Timestamp.IsZero() {
		message.WriteString(fmt.Sprintf("Raised at: %s\r\n", alert.Timestamp.UTC().Format(time.RFC3339)))
	}
	if alert.Resolved && alert.ResolvedAt != nil {
		message.WriteString(fmt.Sprintf("Resolved at: %s\r\n", alert.ResolvedAt.UTC().Format(time.RFC3339)))
	}

	return message.String()
}

// sendMail delivers the message, honoring the context and a hard timeout.
func (c *EmailChannel) sendMail(ctx context.Context, message string) error {
	var auth smtp.Auth
	if c.config.Username != "" && c.config.Password != "" {
		auth = smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.SMTPServer)
	}

	port := c.config.SMTPPort
	if port == 0 {
		port = 587
	}
	serverAddr := fmt.Sprintf("%s:%d", c.config.SMTPServer, port)

	done := make(chan error, 1)
	go func() {
		// Port 465 is implicit TLS; 587 and 25 use STARTTLS via SendMail.
		if port == 465 {
			done <- c.sendMailTLS(serverAddr, auth, message)
		} else {
			done <- smtp.SendMail(serverAddr, auth, c.config.From, c.config.To, []byte(message))
		}
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("email send timeout")
	}
}

// sendMailTLS sends over an implicit-TLS connection.
func (c *EmailChannel) sendMailTLS(serverAddr string, auth smtp.Auth, message string) error {
	tlsConfig := &tls.Config{
		ServerName: strings.Split(serverAddr, ":")[0],
	}

	conn, err := tls.Dial("tcp", serverAddr, tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, tlsConfig.ServerName)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Quit()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(c.config.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, recipient := range c.config.To {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", recipient, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to get data writer: %w", err)
	}
	if _, err := writer.Write([]byte(message)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return writer.Close()
}

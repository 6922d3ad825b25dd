// Package notifications provides outbound delivery channels for alerts:
// Slack webhooks, SMTP email, and generic JSON webhooks. Every channel
// implements alerting.NotificationChannel and can be registered on the
// alert service directly.
package notifications

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowledger/flowledger/pkg/alerting"
)

// subjectLine renders the severity-tagged one-line summary shared by the
// email subject and the Slack headline.
func subjectLine(alert *alerting.Alert) string {
	title := alert.Title
	if alert.Resolved {
		title = "RESOLVED: " + title
	}
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), title)
}

// sortedLabels returns the alert's labels as ordered key/value pairs so
// rendered notifications are deterministic.
func sortedLabels(alert *alerting.Alert) [][2]string {
	if len(alert.Labels) == 0 {
		return nil
	}

	keys := make([]string, 0, len(alert.Labels))
	for k := range alert.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([][2]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]string{k, alert.Labels[k]})
	}
	return pairs
}

// maskWebhookURL masks the webhook URL for logging
func maskWebhookURL(url string) string {
	if len(url) < 20 {
		return "***"
	}
	return url[:20] + "***"
}

package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-lamper/internal/util"
)

// webhookTimeout bounds a single webhook delivery.
const webhookTimeout = 10000 * time.Millisecond

// Webhook event names.
const (
	EventDeviceLost      = "device_lost"
	EventDeviceRecovered = "device_recovered"
	EventTest            = "test"
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event     string `json:"event"`
	Name      string `json:"name"`
	RunID     string `json:"run_id,omitempty"`
	Address   string `json:"address,omitempty"`   // Device address
	Error     string `json:"error,omitempty"`     // Health check failure (device_lost only)
	OutageMs  int64  `json:"outage_ms,omitempty"` // Outage length (device_recovered only)
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// SendDeviceLostWebhook reports that the light stopped answering.
func SendDeviceLostWebhook(webhookURL string, a *Alert) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     EventDeviceLost,
		Name:      a.Name,
		RunID:     a.RunID,
		Address:   a.Address,
		Error:     a.Error,
		Timestamp: timestampUTC(),
	})
}

// SendDeviceRecoveredWebhook reports that the light answers again.
func SendDeviceRecoveredWebhook(webhookURL string, a *Alert) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     EventDeviceRecovered,
		Name:      a.Name,
		RunID:     a.RunID,
		Address:   a.Address,
		OutageMs:  a.Outage.Milliseconds(),
		Timestamp: timestampUTC(),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(webhookURL, name string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     EventTest,
		Name:      name,
		Message:   "This is a test notification from " + name,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := &http.Client{Timeout: webhookTimeout}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

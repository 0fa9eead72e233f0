package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
)

// WebhookSender posts signals to an HTTP endpoint. The body is a Slack
// compatible message that also carries the signal fields, so the same hook
// can feed a chat channel or an agent function.
type WebhookSender struct {
	webhookURL string
	key        string
	client     *http.Client
}

// WebhookMessage represents the webhook payload
type WebhookMessage struct {
	Text        string              `json:"text"`
	Attachments []WebhookAttachment `json:"attachments,omitempty"`
	Signal      Signal              `json:"signal"`
}

// WebhookAttachment represents a Slack message attachment
type WebhookAttachment struct {
	Color  string `json:"color"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Footer string `json:"footer,omitempty"`
}

// NewWebhookSender creates a sender. key, when set, is sent as the
// x-functions-key header.
func NewWebhookSender(webhookURL, key string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		webhookURL: webhookURL,
		key:        key,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// ToJSON converts the message to JSON
func (m *WebhookMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Color returns the Slack color for an action type
func Color(t domain.ActionType) string {
	switch t {
	case domain.ActionEscalation:
		return "danger"
	case domain.ActionScheduleFollowup:
		return "warning"
	case domain.ActionArchive:
		return "good"
	default:
		return "#439FE0"
	}
}

// Send posts the signal
func (w *WebhookSender) Send(ctx context.Context, s Signal) error {
	if w.webhookURL == "" {
		return nil // Disabled
	}

	text := s.Message
	if text == "" {
		text = fmt.Sprintf("%s for %s", s.Type, s.RequestID)
	}
	msg := WebhookMessage{
		Text: text,
		Attachments: []WebhookAttachment{
			{
				Color:  Color(s.Type),
				Title:  s.RequestID,
				Text:   fmt.Sprintf("status: %s", s.Status),
				Footer: "Factory Coordinator",
			},
		},
		Signal: s,
	}

	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.key != "" {
		req.Header.Set("x-functions-key", w.key)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}

	return nil
}

// Package notify implements the external notification sink: a
// webhook-style POST of a structured message, best-effort, at-most-once.
package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNotConfigured indicates no webhook URL is configured
	ErrNotConfigured = errors.New("notification sink not configured")
	// ErrSendFailed indicates the sink rejected or never received the message
	ErrSendFailed = errors.New("notification send failed")
)

// Message is the structured payload sent to the sink
type Message struct {
	From       string
	Subject    string
	Category   string
	Confidence float64
	Preview    string
	Date       time.Time
}

// Sink delivers one message to an external notification target.
// Success means the sink acknowledged with a 2xx; no response body
// contract is assumed.
type Sink interface {
	Notify(msg Message) error
}

// SlackSink posts block-formatted messages to a Slack incoming webhook
type SlackSink struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlackSink creates a sink for the given webhook URL. An empty URL
// yields a sink that reports ErrNotConfigured on every call.
func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsConfigured reports whether a webhook URL is set
func (s *SlackSink) IsConfigured() bool {
	return s.webhookURL != ""
}

type slackBlock struct {
	Type   string        `json:"type"`
	Text   *slackText    `json:"text,omitempty"`
	Fields []slackText   `json:"fields,omitempty"`
	Elems  []slackText   `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

// Notify posts the message to the webhook. 2xx means success.
func (s *SlackSink) Notify(msg Message) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	preview := msg.Preview
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}

	payload := slackPayload{
		Text: fmt.Sprintf("New %s Email Received", msg.Category),
		Blocks: []slackBlock{
			{
				Type: "header",
				Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("New %s Email", msg.Category)},
			},
			{
				Type: "section",
				Fields: []slackText{
					{Type: "mrkdwn", Text: "*From:*\n" + msg.From},
					{Type: "mrkdwn", Text: "*Category:*\n" + msg.Category},
					{Type: "mrkdwn", Text: "*Subject:*\n" + msg.Subject},
					{Type: "mrkdwn", Text: fmt.Sprintf("*Confidence:*\n%d%%", int(msg.Confidence*100))},
				},
			},
			{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: "*Preview:*\n" + preview},
			},
			{
				Type: "context",
				Elems: []slackText{
					{Type: "mrkdwn", Text: msg.Date.Format(time.RFC1123) + " | Email Aggregator"},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	resp, err := s.httpClient.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrSendFailed, resp.StatusCode)
	}

	return nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SlackWebhook posts events to a Slack incoming webhook.
type SlackWebhook struct {
	url    string
	client *http.Client
}

// SlackOption configures a SlackWebhook.
type SlackOption func(*SlackWebhook)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) SlackOption {
	return func(s *SlackWebhook) { s.client = client }
}

// NewSlackWebhook creates a notifier posting to url.
func NewSlackWebhook(url string, opts ...SlackOption) *SlackWebhook {
	s := &SlackWebhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type slackMessage struct {
	Text string `json:"text"`
}

// Notify posts the event as one webhook message. Any non-2xx status
// is an error.
func (s *SlackWebhook) Notify(ctx context.Context, ev Event) error {
	text := fmt.Sprintf(":rotating_light: *%s* fired", ev.Rule)
	if ev.Cluster != "" {
		text += fmt.Sprintf(" on `%s`", ev.Cluster)
	}
	text += fmt.Sprintf(" (cycle %d, session %s)\n%s", ev.Cycle, ev.SessionID, ev.Summary)

	body, err := json.Marshal(slackMessage{Text: text})
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

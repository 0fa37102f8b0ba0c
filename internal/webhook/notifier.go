package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnexpectedStatus is returned when the endpoint answers with anything but 200 or 204
var ErrUnexpectedStatus = errors.New("unexpected webhook response status")

// Notifier posts a message to a webhook endpoint
type Notifier interface {
	Send(ctx context.Context, url, content string) (int, error)
}

// HTTPNotifier posts Discord-compatible JSON payloads
type HTTPNotifier struct {
	client *http.Client
}

// NewHTTPNotifier creates a notifier with a bounded per-request timeout
func NewHTTPNotifier(timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNotifier{client: &http.Client{Timeout: timeout}}
}

type discordPayload struct {
	Content string `json:"content"`
}

// Send posts {"content": content} to url
func (n *HTTPNotifier) Send(ctx context.Context, url, content string) (int, error) {
	body, err := json.Marshal(discordPayload{Content: content})
	if err != nil {
		return 0, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return resp.StatusCode, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
	return resp.StatusCode, nil
}

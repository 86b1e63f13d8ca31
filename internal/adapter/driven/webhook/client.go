// Package webhook implements the reply-webhook port over HTTP POST.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/emontero/chatworker/internal/domain/port/driven"
)

const defaultTimeout = 15 * time.Second

// maxResponseBytes caps how much of a webhook response is read. Replies are
// chat messages; anything larger is a misbehaving endpoint.
const maxResponseBytes = 64 * 1024

// Client delivers inbound messages to tenant-configured webhook endpoints and
// extracts the optional reply.
type Client struct {
	httpClient *http.Client
}

// Compile-time interface satisfaction check.
var _ driven.ReplyWebhook = (*Client)(nil)

// NewClient creates a webhook client with a bounded request timeout.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type eventPayload struct {
	Event      string `json:"event"`
	InstanceID string `json:"instance_id"`
	From       string `json:"from"`
	Body       string `json:"body"`
}

type replyPayload struct {
	Reply string `json:"reply"`
}

// Invoke posts the message event to url and returns the endpoint's reply text.
// An empty reply, a non-JSON body, or an empty body all mean "no reply"; only
// transport failures and non-2xx statuses are errors.
func (c *Client) Invoke(ctx context.Context, url, instanceID, from, body string) (string, error) {
	payload, err := json.Marshal(eventPayload{
		Event:      "message",
		InstanceID: instanceID,
		From:       from,
		Body:       body,
	})
	if err != nil {
		return "", fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post webhook event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read webhook response: %w", err)
	}
	if len(data) == 0 {
		return "", nil
	}

	var reply replyPayload
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", nil
	}
	return reply.Reply, nil
}

package driven

import "context"

// ReplyWebhook defines the driven port for the webhook response strategy.
type ReplyWebhook interface {
	// Invoke posts the inbound message envelope to url and returns the reply
	// text from the response body. An empty reply means no reply is sent.
	Invoke(ctx context.Context, url, instanceID, from, body string) (string, error)
}

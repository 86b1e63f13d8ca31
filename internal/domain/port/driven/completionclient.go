package driven

import (
	"context"

	"github.com/emontero/chatworker/internal/domain/model"
)

// CompletionClient defines the driven port for the external text-generation
// service used by the AI response strategy.
type CompletionClient interface {
	// Complete submits the system prompt, prior conversation turns
	// (oldest-first) and the current user message, and returns the first
	// completion text.
	Complete(ctx context.Context, systemPrompt string, history []model.ChatTurn, userMessage string) (string, error)
}

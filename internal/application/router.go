package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/emontero/chatworker/internal/domain/model"
	"github.com/emontero/chatworker/internal/domain/port/driven"
)

// defaultSystemPrompt is used by the AI strategy when the instance has no
// system prompt configured.
const defaultSystemPrompt = "You are a helpful assistant replying to chat messages. Keep replies short and conversational."

// historyLimit bounds the conversation memory fed to the AI strategy.
const historyLimit = 10

// sendTimeout bounds each outbound reply send.
const sendTimeout = 30 * time.Second

// Router consumes inbound-message batches from connected instances, dispatches
// each message to exactly one response strategy, and persists the transcript.
type Router struct {
	instances   driven.InstanceStore
	transcript  driven.TranscriptStore
	webhook     driven.ReplyWebhook
	completions driven.CompletionClient
}

// NewRouter creates a Router with all required dependencies.
func NewRouter(
	instances driven.InstanceStore,
	transcript driven.TranscriptStore,
	webhook driven.ReplyWebhook,
	completions driven.CompletionClient,
) *Router {
	return &Router{
		instances:   instances,
		transcript:  transcript,
		webhook:     webhook,
		completions: completions,
	}
}

// replyStrategy is the choice of response policy for one message, resolved
// once from the loaded instance configuration. A configured webhook URL wins
// outright; the AI strategy is the fallback.
type replyStrategy struct {
	webhookURL   string // non-empty selects the webhook strategy
	systemPrompt string
}

// resolveStrategy maps instance configuration to the strategy for this message.
func resolveStrategy(inst *model.Instance) replyStrategy {
	var s replyStrategy
	if inst.WebhookURL != nil && *inst.WebhookURL != "" {
		s.webhookURL = *inst.WebhookURL
		return s
	}
	s.systemPrompt = defaultSystemPrompt
	if inst.SystemPrompt != nil && *inst.SystemPrompt != "" {
		s.systemPrompt = *inst.SystemPrompt
	}
	return s
}

// HandleBatch processes one inbound batch for an instance. Messages within
// the batch are handled sequentially in receipt order; batches from different
// instances run concurrently on their own goroutines.
func (r *Router) HandleBatch(ctx context.Context, instanceID string, transport driven.Transport, messages []model.InboundMessage) {
	for _, msg := range messages {
		if ctx.Err() != nil {
			return
		}
		r.handleMessage(ctx, instanceID, transport, msg)
	}
}

// handleMessage runs the per-message pipeline: echo suppression, text
// extraction, transcript append, strategy dispatch, reply send. A failure in
// any stage ends the pipeline for this message only.
func (r *Router) handleMessage(ctx context.Context, instanceID string, transport driven.Transport, msg model.InboundMessage) {
	if msg.FromMe {
		return
	}

	text := msg.Text()
	if text == "" {
		// Media and other non-text payloads are not routed here.
		return
	}

	// History is captured before the inbound append so the current message
	// appears exactly once in the completion request, as user_message.
	history, err := r.transcript.Recent(ctx, instanceID, msg.SenderID, historyLimit)
	if err != nil {
		slog.Error("history load failed", "instance", instanceID, "from", msg.SenderID, "error", err)
		history = nil
	}

	if err := r.transcript.Append(ctx, model.TranscriptEntry{
		InstanceID:    instanceID,
		CounterpartID: msg.SenderID,
		Body:          text,
		Direction:     model.DirectionInbound,
	}); err != nil {
		slog.Error("inbound transcript append failed", "instance", instanceID, "from", msg.SenderID, "error", err)
	}

	inst, err := r.instances.Get(ctx, instanceID)
	if err != nil || inst == nil {
		slog.Error("instance config load failed", "instance", instanceID, "error", err)
		return
	}

	reply := r.generateReply(ctx, instanceID, msg.SenderID, text, resolveStrategy(inst), history)
	if reply == "" {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := transport.SendText(sendCtx, msg.SenderID, reply); err != nil {
		slog.Error("reply send failed", "instance", instanceID, "to", msg.SenderID, "error", err)
		return
	}

	if err := r.transcript.Append(ctx, model.TranscriptEntry{
		InstanceID:    instanceID,
		CounterpartID: msg.SenderID,
		Body:          reply,
		Direction:     model.DirectionOutbound,
	}); err != nil {
		slog.Error("outbound transcript append failed", "instance", instanceID, "to", msg.SenderID, "error", err)
	}
}

// generateReply runs exactly one strategy. Any strategy failure yields no
// reply; the inbound message is already recorded and is never retried.
func (r *Router) generateReply(ctx context.Context, instanceID, from, text string, strategy replyStrategy, history []model.TranscriptEntry) string {
	if strategy.webhookURL != "" {
		reply, err := r.webhook.Invoke(ctx, strategy.webhookURL, instanceID, from, text)
		if err != nil {
			slog.Error("webhook strategy failed", "instance", instanceID, "url", strategy.webhookURL, "error", err)
			return ""
		}
		return reply
	}

	turns := make([]model.ChatTurn, 0, len(history))
	for _, entry := range history {
		turns = append(turns, model.ChatTurn{Role: entry.HistoryRole(), Content: entry.Body})
	}

	reply, err := r.completions.Complete(ctx, strategy.systemPrompt, turns, text)
	if err != nil {
		slog.Error("completion strategy failed", "instance", instanceID, "error", err)
		return ""
	}
	return reply
}

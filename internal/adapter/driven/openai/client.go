// Package openai implements the chat-completion port against Azure OpenAI.
package openai

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"github.com/emontero/chatworker/internal/domain/model"
	"github.com/emontero/chatworker/internal/domain/port/driven"
)

// Client calls one Azure OpenAI chat deployment.
type Client struct {
	client     *azopenai.Client
	deployment string
}

// Compile-time interface satisfaction check.
var _ driven.CompletionClient = (*Client)(nil)

// NewClient creates a completion client for the given endpoint and deployment.
func NewClient(endpoint, apiKey, deployment string) (*Client, error) {
	cred := azcore.NewKeyCredential(apiKey)
	client, err := azopenai.NewClientWithKeyCredential(endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure openai client: %w", err)
	}
	return &Client{client: client, deployment: deployment}, nil
}

// Complete sends the system prompt, prior turns, and current user message as
// one chat-completion request and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, systemPrompt string, history []model.ChatTurn, userMessage string) (string, error) {
	messages := buildMessages(systemPrompt, history, userMessage)

	resp, err := c.client.GetChatCompletions(ctx, azopenai.ChatCompletionsOptions{
		DeploymentName: to.Ptr(c.deployment),
		Messages:       messages,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("get chat completions: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return *resp.Choices[0].Message.Content, nil
}

// buildMessages lays the request out as system prompt, then history in
// chronological order, then the current message.
func buildMessages(systemPrompt string, history []model.ChatTurn, userMessage string) []azopenai.ChatRequestMessageClassification {
	messages := make([]azopenai.ChatRequestMessageClassification, 0, len(history)+2)

	messages = append(messages, &azopenai.ChatRequestSystemMessage{
		Content: azopenai.NewChatRequestSystemMessageContent(systemPrompt),
	})

	for _, turn := range history {
		if turn.Role == model.RoleAssistant {
			messages = append(messages, &azopenai.ChatRequestAssistantMessage{
				Content: azopenai.NewChatRequestAssistantMessageContent(turn.Content),
			})
			continue
		}
		messages = append(messages, &azopenai.ChatRequestUserMessage{
			Content: azopenai.NewChatRequestUserMessageContent(turn.Content),
		})
	}

	messages = append(messages, &azopenai.ChatRequestUserMessage{
		Content: azopenai.NewChatRequestUserMessageContent(userMessage),
	})
	return messages
}

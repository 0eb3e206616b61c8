package llm

import (
	"context"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vigilops/vigil/internal/session"
)

// AnthropicClient implements Client using the Anthropic Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient creates a client that reads ANTHROPIC_API_KEY from
// the environment.
func NewAnthropicClient(model string, maxTokens int) *AnthropicClient {
	return &AnthropicClient{
		client:    anthropic.NewClient(),
		model:     anthropic.Model(model),
		maxTokens: int64(maxTokens),
	}
}

// NewAnthropicClientWithKey creates a client with an explicit API key.
func NewAnthropicClientWithKey(apiKey, model string, maxTokens int) *AnthropicClient {
	c := NewAnthropicClient(model, maxTokens)
	c.client = anthropic.NewClient(option.WithAPIKey(apiKey))
	return c
}

// Send submits the conversation and returns the model's reply.
func (c *AnthropicClient) Send(ctx context.Context, history []session.Message) (*Reply, error) {
	msg, err := c.client.Messages.New(ctx, c.buildParams(history))
	if err != nil {
		return nil, fmt.Errorf("anthropic send: %w", err)
	}
	return parseReply(msg), nil
}

// buildParams lifts a leading system message into the API's system
// parameter and maps the rest role for role. Other roles are skipped.
func (c *AnthropicClient) buildParams(history []session.Message) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
	}

	if session.HasSystemAnchor(history) {
		params.System = []anthropic.TextBlockParam{
			{Text: history[0].Content},
		}
		history = history[1:]
	}

	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case session.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(m.Content),
			))
		case session.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(m.Content),
			))
		}
	}
	params.Messages = messages

	return params
}

func parseReply(msg *anthropic.Message) *Reply {
	reply := &Reply{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply.Text += block.Text
		}
	}
	return reply
}

// Package anthropic adapts Anthropic's Messages API to the model.ChatModel
// interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nodeflow/nodeflow/flow/model"
)

// defaultMaxTokens bounds response length; Anthropic requires an explicit
// limit on every request.
const defaultMaxTokens = 4096

// ChatModel wraps the official anthropic-sdk-go client. Safe for
// concurrent use after creation.
type ChatModel struct {
	client *anthropic.Client
	model  string
}

// NewChatModel creates an Anthropic-backed chat model.
func NewChatModel(apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}
	if modelName == "" {
		return nil, errors.New("model cannot be empty")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ChatModel{client: &client, model: modelName}, nil
}

// Chat sends the conversation to the Messages API. System messages are
// lifted into the request's system prompt because Anthropic keeps them out
// of the message list.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: defaultMaxTokens,
	}

	var system []string
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			system = append(system, msg.Content)
		case model.RoleAssistant:
			params.Messages = append(params.Messages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(system, "\n\n")},
		}
	}

	for _, t := range tools {
		tool := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
		}
		if props, ok := t.Schema["properties"]; ok {
			tool.InputSchema = anthropic.ToolInputSchemaParam{Properties: props}
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}

	message, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic message: %w", err)
	}

	out := model.ChatOut{
		TokensUsed: int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}
	var text strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			var input map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return model.ChatOut{}, fmt.Errorf("parse tool input for %s: %w", block.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}
	out.Text = text.String()
	return out, nil
}

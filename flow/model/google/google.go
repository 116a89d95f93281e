// Package google adapts Google's Gemini models to the model.ChatModel
// interface.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/nodeflow/nodeflow/flow/model"
)

// ChatModel wraps the generative-ai-go client. Safe for concurrent use.
type ChatModel struct {
	client *genai.Client
	model  string
}

// NewChatModel creates a Gemini-backed chat model. The client dials
// Google's API during construction, so a context is required.
func NewChatModel(ctx context.Context, apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}
	if modelName == "" {
		return nil, errors.New("model cannot be empty")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &ChatModel{client: client, model: modelName}, nil
}

// Close releases the underlying client connection.
func (m *ChatModel) Close() error {
	return m.client.Close()
}

// Chat sends the conversation to Gemini. System messages become the
// model's system instruction; the rest of the conversation is flattened
// into a single prompt because the engine drives one-shot turns.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	gm := m.client.GenerativeModel(m.model)

	var system, prompt strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			system.WriteString(msg.Content)
			system.WriteString("\n")
		case model.RoleAssistant:
			prompt.WriteString("Assistant: ")
			prompt.WriteString(msg.Content)
			prompt.WriteString("\n")
		default:
			prompt.WriteString(msg.Content)
			prompt.WriteString("\n")
		}
	}
	if system.Len() > 0 {
		gm.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system.String())},
		}
	}

	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
			})
		}
		gm.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := gm.GenerateContent(ctx, genai.Text(prompt.String()))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("gemini generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return model.ChatOut{}, errors.New("no response from Gemini API")
	}

	var out model.ChatOut
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				Name:  p.Name,
				Input: p.Args,
			})
		}
	}
	out.Text = text.String()
	return out, nil
}

// Package model abstracts LLM chat providers behind a single interface.
//
// The llm-chat node talks to a ChatModel and never to a provider SDK
// directly, so which providers are available is purely a question of which
// API keys the host configured. MockChatModel backs the tests.
package model

import "context"

// Standard conversation roles, aligned with the major provider APIs.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of an LLM conversation.
type Message struct {
	// Role is one of the Role* constants.
	Role string

	// Content is the message text. May be empty for turns that only
	// carry tool calls.
	Content string
}

// ToolSpec describes a tool the LLM may call. Schema is JSON Schema for
// the tool's input; nil for tools without parameters.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is the LLM requesting one tool invocation.
type ToolCall struct {
	// ID correlates the call with its result on providers that track
	// tool calls individually. Empty when the provider does not.
	ID string

	Name  string
	Input map[string]any
}

// ChatOut is a completed chat turn: generated text, requested tool calls,
// or both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall

	// TokensUsed is the provider-reported total token count, zero when
	// the provider does not report usage.
	TokensUsed int
}

// ChatModel is a chat-based LLM provider.
//
// Implementations handle authentication, convert Message and ToolSpec to
// the provider's wire format, and respect context cancellation.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

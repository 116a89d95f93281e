package model

import (
	"context"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests: configurable responses,
// error injection and full call history. Thread-safe.
//
// Each Chat call returns the next entry of Responses; once exhausted, the
// last entry repeats. Err, when set, is returned instead.
type MockChatModel struct {
	Responses []ChatOut
	Err       error

	// Calls records every Chat invocation in order.
	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall is one recorded Chat invocation.
type MockChatCall struct {
	Messages []Message
	Tools    []ToolSpec
}

// Chat records the call and returns the next scripted response.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{Messages: messages, Tools: tools})

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.callIndex++
	return m.Responses[idx], nil
}

// CallCount returns how many times Chat has been invoked.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent invocation, or nil.
func (m *MockChatModel) LastCall() *MockChatCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	call := m.Calls[len(m.Calls)-1]
	return &call
}

package orchestrator

import (
	"context"

	"github.com/longregen/marlowe/internal/tools"
)

// Msg is one entry of the model conversation.
type Msg struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ChatRequest is one model call.
type ChatRequest struct {
	Messages    []Msg
	Tools       []tools.Definition
	Temperature float32
	MaxTokens   int
}

// ChatReply is the model's answer to one call.
type ChatReply struct {
	Content   string
	ToolCalls []ToolCall
}

// ChatClient is the narrow LLM surface the controller needs.
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatReply, error)
}

// TurnRequest is one user message to answer.
type TurnRequest struct {
	ConversationID string
	UserID         string
	Message        string
	RecentTools    []string
}

// TurnResult is the completed turn.
type TurnResult struct {
	MessageID string
	Content   string
	ToolsUsed []string
	Degraded  bool
}

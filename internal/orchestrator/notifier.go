package orchestrator

import "context"

// Notifier delivers turn progress events to the client transport. All
// methods are best-effort: a client that went away must not fail a turn.
type Notifier interface {
	SendStartAnswer(ctx context.Context, messageID string)
	SendThinking(ctx context.Context, messageID, text string)
	SendToolStart(ctx context.Context, toolUseID, name string, args map[string]any)
	SendToolComplete(ctx context.Context, toolUseID string, success bool, result any, errText string)
	SendMemoryTrace(ctx context.Context, messageID, memoryID, content string, similarity float32)
	SendComplete(ctx context.Context, messageID, content string)
	SendError(ctx context.Context, messageID string, err error)
	SendTitleUpdate(ctx context.Context, title string)
}

// NopNotifier discards all events. Useful for CLI runs and tests.
type NopNotifier struct{}

func (NopNotifier) SendStartAnswer(ctx context.Context, messageID string)           {}
func (NopNotifier) SendThinking(ctx context.Context, messageID, text string)        {}
func (NopNotifier) SendToolStart(ctx context.Context, toolUseID, name string, args map[string]any) {
}
func (NopNotifier) SendToolComplete(ctx context.Context, toolUseID string, success bool, result any, errText string) {
}
func (NopNotifier) SendMemoryTrace(ctx context.Context, messageID, memoryID, content string, similarity float32) {
}
func (NopNotifier) SendComplete(ctx context.Context, messageID, content string) {}
func (NopNotifier) SendError(ctx context.Context, messageID string, err error)  {}
func (NopNotifier) SendTitleUpdate(ctx context.Context, title string)           {}

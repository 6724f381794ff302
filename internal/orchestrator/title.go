package orchestrator

import (
	"context"
	"log/slog"
	"strings"
)

const defaultTitle = "New Chat"

// maybeUpdateTitle generates a conversation title from the first exchange.
// It runs on a detached context after the turn completes; every failure is
// logged and swallowed.
func (o *Orchestrator) maybeUpdateTitle(ctx context.Context, conversationID, userMsg, assistantMsg string) {
	if o.turns == nil {
		return
	}

	conv, err := o.turns.GetConversation(ctx, conversationID)
	if err != nil {
		slog.ErrorContext(ctx, "title check failed", "conversation_id", conversationID, "error", err)
		return
	}
	if conv.Title != "" && conv.Title != defaultTitle {
		return
	}

	title, err := o.generateTitle(ctx, userMsg, assistantMsg)
	if err != nil {
		slog.ErrorContext(ctx, "title generation failed", "conversation_id", conversationID, "error", err)
		return
	}

	if err := o.turns.UpdateConversationTitle(ctx, conversationID, title); err != nil {
		slog.ErrorContext(ctx, "title update failed", "conversation_id", conversationID, "error", err)
		return
	}

	o.notifier.SendTitleUpdate(ctx, title)
	slog.InfoContext(ctx, "conversation titled", "conversation_id", conversationID, "title", title)
}

func (o *Orchestrator) generateTitle(ctx context.Context, userMsg, assistantMsg string) (string, error) {
	prompt := "Generate a short title (under 50 chars) for this conversation.\n\n" +
		"User message: " + truncate(userMsg, 500) + "\n"
	if assistantMsg != "" {
		prompt += "Assistant response: " + truncate(assistantMsg, 500) + "\n"
	}
	prompt += "\nRespond with ONLY the title, no quotes or explanation."

	reply, err := o.callModel(ctx, ChatRequest{
		Messages:  []Msg{{Role: "user", Content: prompt}},
		MaxTokens: 60,
	})
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(reply.Content)
	title = strings.Trim(title, "\"'")
	if len(title) > 50 {
		title = title[:47] + "..."
	}
	return title, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

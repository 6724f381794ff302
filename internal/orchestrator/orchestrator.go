// Package orchestrator runs the bounded turn pipeline: assemble context,
// call the model with a prefiltered tool set, execute requested tools, and
// make exactly one follow-up model call to produce the final answer.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/marlowe/internal/convctx"
	"github.com/longregen/marlowe/internal/memory"
	"github.com/longregen/marlowe/internal/metrics"
	"github.com/longregen/marlowe/internal/store"
	"github.com/longregen/marlowe/internal/tools"
	"github.com/longregen/marlowe/shared/id"
)

// UsageTracker records which memories informed a turn.
type UsageTracker interface {
	TrackUsage(ctx context.Context, conversationID, messageID string, chunks []memory.Chunk)
}

// TurnRecorder persists interaction records after a turn completes.
type TurnRecorder interface {
	Record(ctx context.Context, outcome memory.TurnOutcome) (*store.Interaction, error)
}

// TurnStore is the slice of the store the controller writes turns through.
type TurnStore interface {
	CreateMessage(ctx context.Context, msg *store.Message) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
}

// Orchestrator drives one turn end to end.
type Orchestrator struct {
	primary   ChatClient
	secondary ChatClient
	engine    *tools.Engine
	selector  *tools.Selector
	builder   *convctx.Builder
	tracker   UsageTracker
	recorder  TurnRecorder
	turns     TurnStore
	prefs     *convctx.PreferencesStore
	notifier  Notifier
}

// Config wires an Orchestrator. Secondary, Tracker, Recorder, and Turns
// are optional; Notifier defaults to NopNotifier.
type Config struct {
	Primary   ChatClient
	Secondary ChatClient
	Engine    *tools.Engine
	Selector  *tools.Selector
	Builder   *convctx.Builder
	Tracker   UsageTracker
	Recorder  TurnRecorder
	Turns     TurnStore
	Prefs     *convctx.PreferencesStore
	Notifier  Notifier
}

func New(cfg Config) *Orchestrator {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Orchestrator{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		engine:    cfg.Engine,
		selector:  cfg.Selector,
		builder:   cfg.Builder,
		tracker:   cfg.Tracker,
		recorder:  cfg.Recorder,
		turns:     cfg.Turns,
		prefs:     cfg.Prefs,
		notifier:  notifier,
	}
}

// WithNotifier returns a copy of the orchestrator that streams events to
// the given notifier. Used to bind a turn to one client session.
func (o *Orchestrator) WithNotifier(n Notifier) *Orchestrator {
	if n == nil {
		n = NopNotifier{}
	}
	clone := *o
	clone.notifier = n
	return &clone
}

// HandleTurn answers one user message. The turn makes at most two model
// calls: the initial one, and one follow-up after tool execution. A model
// that keeps asking for tools on the follow-up gets its text extracted
// and the remaining requests dropped.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	ctx, span := otel.Tracer("internal/orchestrator").Start(ctx, "turn.handle",
		trace.WithAttributes(
			attribute.String("conversation_id", req.ConversationID),
			attribute.String("user_id", req.UserID),
		))
	defer span.End()

	msgID := id.NewMessage()
	o.notifier.SendStartAnswer(ctx, msgID)
	o.notifier.SendThinking(ctx, msgID, "Processing request...")

	ec, _ := o.builder.Build(ctx, req.UserID, req.ConversationID, req.Message, req.RecentTools)

	if ec.PersonalKnowledge != nil {
		for _, chunk := range ec.PersonalKnowledge.Results {
			o.notifier.SendMemoryTrace(ctx, msgID, chunk.MemoryID, chunk.Content, chunk.Score)
		}
		if o.tracker != nil {
			o.tracker.TrackUsage(ctx, req.ConversationID, msgID, ec.PersonalKnowledge.Results)
		}
	}

	o.persistMessage(ctx, req.ConversationID, "user", req.Message)

	selected := o.selector.Select(req.Message, req.RecentTools)
	span.SetAttributes(attribute.Int("tools_offered", len(selected)))

	prefs := ec.Preferences
	messages := buildMessages(ec, req.Message)

	reply, err := o.callModel(ctx, ChatRequest{
		Messages:    messages,
		Tools:       selected,
		Temperature: prefs.Temperature,
		MaxTokens:   prefs.MaxTokens,
	})
	if err != nil {
		o.notifier.SendError(ctx, msgID, err)
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("initial model call: %w", err)
	}

	result := &TurnResult{MessageID: msgID}

	if len(reply.ToolCalls) == 0 {
		result.Content = strings.TrimSpace(reply.Content)
	} else {
		result.Content, result.ToolsUsed, result.Degraded = o.runToolRound(ctx, msgID, req.UserID, messages, selected, reply, prefs)
	}

	o.persistMessage(ctx, req.ConversationID, "assistant", result.Content)
	o.notifier.SendComplete(ctx, msgID, result.Content)
	slog.InfoContext(ctx, "turn complete",
		"conversation_id", req.ConversationID, "message_id", msgID,
		"tools_used", len(result.ToolsUsed), "degraded", result.Degraded)

	if result.Degraded {
		metrics.TurnsTotal.WithLabelValues("degraded").Inc()
	} else {
		metrics.TurnsTotal.WithLabelValues("ok").Inc()
	}

	// A severed client means the response was never delivered; recording
	// it as a completed interaction would poison the history. The write
	// itself happens after the answer is returned and never blocks it.
	if o.recorder != nil && ctx.Err() == nil {
		recCtx := context.WithoutCancel(ctx)
		outcome := memory.TurnOutcome{
			ConversationID: req.ConversationID,
			UserID:         req.UserID,
			UserMessage:    req.Message,
			Response:       result.Content,
			ToolsUsed:      result.ToolsUsed,
		}
		go func() {
			if _, err := o.recorder.Record(recCtx, outcome); err != nil {
				slog.ErrorContext(recCtx, "interaction recording failed", "error", err)
			}
		}()
	}

	// Detached context: title generation must survive the turn ending.
	titleCtx, titleCancel := context.WithTimeout(
		trace.ContextWithSpanContext(context.Background(), trace.SpanFromContext(ctx).SpanContext()),
		45*time.Second,
	)
	go func() {
		defer titleCancel()
		o.maybeUpdateTitle(titleCtx, req.ConversationID, req.Message, result.Content)
	}()

	return result, nil
}

// runToolRound executes the model's tool calls and makes the single
// follow-up call. It never fails the turn: a broken follow-up yields a
// degraded answer that reports what ran without claiming an outcome.
func (o *Orchestrator) runToolRound(ctx context.Context, msgID, userID string, messages []Msg, selected []tools.Definition, reply *ChatReply, prefs convctx.UserPreferences) (content string, toolsUsed []string, degraded bool) {
	calls := make([]tools.Call, 0, len(reply.ToolCalls))
	for _, tc := range reply.ToolCalls {
		o.notifier.SendToolStart(ctx, tc.ID, tc.Name, tc.Arguments)
		calls = append(calls, tools.Call{ToolUseID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		toolsUsed = append(toolsUsed, tc.Name)
	}

	results := o.engine.ExecuteBatch(ctx, calls, userID)

	messages = append(messages, Msg{Role: "assistant", Content: reply.Content, ToolCalls: reply.ToolCalls})
	for _, res := range results {
		o.notifier.SendToolComplete(ctx, res.ToolUseID, res.Success, res.Data, res.Error)
		messages = append(messages, Msg{
			Role:       "tool",
			ToolCallID: res.ToolUseID,
			Content:    formatToolResult(res),
		})
	}

	o.notifier.SendThinking(ctx, msgID, "Composing answer...")

	followup, err := o.callModel(ctx, ChatRequest{
		Messages:    messages,
		Tools:       selected,
		Temperature: prefs.Temperature,
		MaxTokens:   prefs.MaxTokens,
	})
	if err != nil {
		slog.ErrorContext(ctx, "post-tool model call failed", "error", err)
		return degradedToolSummary(calls, results), toolsUsed, true
	}

	content = strings.TrimSpace(followup.Content)
	if len(followup.ToolCalls) > 0 {
		// The round trip is spent; extract whatever text came along and
		// tell the user the extra actions were not taken.
		if content == "" {
			content = "I gathered the information above but would need another step to finish; let me know if you want me to continue."
		} else {
			content += "\n\n(Some follow-up actions were requested but not executed this turn.)"
		}
	}
	if content == "" {
		content = degradedToolSummary(calls, results)
		degraded = true
	}
	return content, toolsUsed, degraded
}

// callModel tries the primary provider and falls back to the secondary.
func (o *Orchestrator) callModel(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	start := time.Now()
	reply, err := o.primary.Chat(ctx, req)
	if err == nil {
		metrics.LLMRequestDuration.WithLabelValues("primary").Observe(time.Since(start).Seconds())
		metrics.LLMRequestsTotal.WithLabelValues("primary", "ok").Inc()
		return reply, nil
	}
	metrics.LLMRequestsTotal.WithLabelValues("primary", "error").Inc()

	if o.secondary == nil {
		return nil, err
	}

	slog.WarnContext(ctx, "primary provider failed, trying secondary", "error", err)
	start = time.Now()
	reply, err2 := o.secondary.Chat(ctx, req)
	if err2 != nil {
		metrics.LLMRequestsTotal.WithLabelValues("secondary", "error").Inc()
		return nil, fmt.Errorf("both providers failed: %w", err2)
	}
	metrics.LLMRequestDuration.WithLabelValues("secondary").Observe(time.Since(start).Seconds())
	metrics.LLMRequestsTotal.WithLabelValues("secondary", "ok").Inc()
	return reply, nil
}

func (o *Orchestrator) persistMessage(ctx context.Context, conversationID, role, content string) {
	if o.turns == nil {
		return
	}
	msg := &store.Message{
		ID:             id.NewMessage(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.turns.CreateMessage(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "message persistence failed", "role", role, "error", err)
	}
}

// buildMessages assembles the model conversation: system context, recent
// history, then the new user message.
func buildMessages(ec *convctx.EnhancedContext, userMessage string) []Msg {
	msgs := []Msg{{Role: "system", Content: buildSystemPrompt(ec)}}
	for _, m := range ec.History {
		if m.Role == "system" {
			continue
		}
		msgs = append(msgs, Msg{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, Msg{Role: "user", Content: userMessage})
	return msgs
}

func buildSystemPrompt(ec *convctx.EnhancedContext) string {
	var sb strings.Builder
	sb.WriteString("You are Marlowe, a helpful personal assistant.\n")

	if ec.Profile.Name != "" {
		fmt.Fprintf(&sb, "\nThe user's name is %s.", ec.Profile.Name)
	}
	if ec.Profile.Timezone != "" {
		fmt.Fprintf(&sb, " Their timezone is %s.", ec.Profile.Timezone)
	}
	if ec.Preferences.CommunicationStyle != "" {
		fmt.Fprintf(&sb, "\nPreferred communication style: %s.", ec.Preferences.CommunicationStyle)
	}
	if len(ec.Preferences.Interests) > 0 {
		fmt.Fprintf(&sb, "\nInterests: %s.", strings.Join(ec.Preferences.Interests, ", "))
	}

	if ec.PersonalKnowledge != nil && len(ec.PersonalKnowledge.Results) > 0 {
		sb.WriteString("\n\nRelevant memories:\n")
		for _, chunk := range ec.PersonalKnowledge.Results {
			sb.WriteString("- ")
			sb.WriteString(chunk.Content)
			sb.WriteByte('\n')
		}
	}

	sb.WriteString("\nUse tools as needed to find the best answer, then reply to the user.")
	return sb.String()
}

func formatToolResult(res tools.Result) string {
	if !res.Success {
		if res.Error != "" {
			return "Error: " + res.Error
		}
		return "Error: " + res.Message
	}
	return fmt.Sprintf("%v", res.Data)
}

// degradedToolSummary produces the honest fallback answer when the
// follow-up model call is unavailable: it lists what ran and refuses to
// claim outcomes it cannot confirm.
func degradedToolSummary(calls []tools.Call, results []tools.Result) string {
	var sb strings.Builder
	sb.WriteString("I ran the following actions but could not compose a full answer:\n")
	for i, call := range calls {
		status := "status unknown"
		if i < len(results) {
			if results[i].Success {
				status = "completed"
			} else {
				status = "failed"
			}
		}
		fmt.Fprintf(&sb, "- %s: %s\n", call.Name, status)
	}
	sb.WriteString("Please ask again to get a complete answer.")
	return sb.String()
}

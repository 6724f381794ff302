package convctx

import (
	"context"
	"log/slog"

	"github.com/longregen/marlowe/internal/memory"
	"github.com/longregen/marlowe/internal/store"
)

const recentMessageWindow = 20

// KnowledgeRetriever is the slice of the memory retriever the builder needs.
type KnowledgeRetriever interface {
	Search(ctx context.Context, userID, query string, limit int) *memory.SearchResult
}

// HistoryStore loads the recent conversation window.
type HistoryStore interface {
	RecentMessages(ctx context.Context, conversationID string, n int) ([]*store.Message, error)
}

// Flow describes the shape of the conversation so far.
type Flow struct {
	MessageCount  int      `json:"message_count"`
	IsNewSession  bool     `json:"is_new_session"`
	RecentTools   []string `json:"recent_tools,omitempty"`
	LastUserWords string   `json:"last_user_words,omitempty"`
}

// EnhancedContext is the assembled per-turn context. PersonalKnowledge is
// nil when retrieval failed; the distinction from an empty result matters
// to callers that annotate degraded answers.
type EnhancedContext struct {
	Profile           Profile              `json:"profile"`
	Preferences       UserPreferences      `json:"preferences"`
	PersonalKnowledge *memory.SearchResult `json:"personal_knowledge,omitempty"`
	History           []*store.Message     `json:"history"`
	Flow              Flow                 `json:"flow"`
}

// Builder assembles EnhancedContext from its collaborators. Every input is
// optional at runtime: a failing collaborator degrades the context, never
// the turn.
type Builder struct {
	prefs     *PreferencesStore
	retriever KnowledgeRetriever
	history   HistoryStore
}

func NewBuilder(prefs *PreferencesStore, retriever KnowledgeRetriever, history HistoryStore) *Builder {
	return &Builder{prefs: prefs, retriever: retriever, history: history}
}

// Build assembles the context for a turn. It always returns a usable
// context; the error return exists only for future callers and is
// currently always nil.
func (b *Builder) Build(ctx context.Context, userID, conversationID, query string, recentTools []string) (*EnhancedContext, error) {
	prefs := b.prefs.Get(userID)

	ec := &EnhancedContext{
		Profile:     b.prefs.GetProfile(userID),
		Preferences: prefs,
		Flow: Flow{
			IsNewSession:  true,
			RecentTools:   recentTools,
			LastUserWords: query,
		},
	}

	if b.history != nil {
		msgs, err := b.history.RecentMessages(ctx, conversationID, recentMessageWindow)
		if err != nil {
			slog.WarnContext(ctx, "history load failed, building context without it",
				"conversation_id", conversationID, "error", err)
		} else {
			ec.History = msgs
			ec.Flow.MessageCount = len(msgs)
			ec.Flow.IsNewSession = len(msgs) == 0
		}
	}

	if b.retriever != nil {
		result := b.retriever.Search(ctx, userID, query, prefs.MemoryRetrievalCount)
		if result.Success {
			ec.PersonalKnowledge = result
		} else {
			// Leave PersonalKnowledge nil so downstream can tell
			// "nothing relevant" from "retrieval broken".
			slog.WarnContext(ctx, "knowledge retrieval failed, building context without it",
				"user_id", userID)
		}
	}

	return ec, nil
}

// Package memory implements semantic retrieval over a user's long-term
// memories and the interaction recorder that conditionally promotes
// completed turns into new memories.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/marlowe/internal/metrics"
	"github.com/longregen/marlowe/internal/store"
	"github.com/longregen/marlowe/shared/id"
)

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchStore is the slice of the store the retriever needs.
type SearchStore interface {
	SearchMemories(ctx context.Context, userID string, embedding []float32, limit int, threshold float32) ([]*store.MemoryHit, error)
	CountMemories(ctx context.Context, userID string) (int, error)
	CreateMemoryUse(ctx context.Context, use *store.MemoryUse) error
}

// Chunk is one retrieved piece of personal knowledge.
type Chunk struct {
	MemoryID string   `json:"memory_id"`
	Content  string   `json:"content"`
	Score    float32  `json:"score"`
	Tags     []string `json:"tags,omitempty"`
}

// SearchResult is the retriever's uniform output. A search that ran fine
// but matched nothing is still a success; Success is false only when a
// collaborator (embedder, store) failed.
type SearchResult struct {
	Results        []Chunk `json:"results"`
	Summary        string  `json:"summary"`
	TotalDocuments int     `json:"total_documents"`
	Success        bool    `json:"success"`
}

// Retriever performs embedding-based search over a user's memories.
type Retriever struct {
	store      SearchStore
	embedder   Embedder
	threshold  float32
	defaultLim int
}

func NewRetriever(s SearchStore, embedder Embedder, threshold float32, defaultLimit int) *Retriever {
	return &Retriever{store: s, embedder: embedder, threshold: threshold, defaultLim: defaultLimit}
}

// Search retrieves the user's memories most similar to the query. It never
// returns an error: retrieval is an enrichment step and its failures must
// not fail the caller's turn.
func (r *Retriever) Search(ctx context.Context, userID, query string, limit int) *SearchResult {
	ctx, span := otel.Tracer("internal/memory").Start(ctx, "memory.search",
		trace.WithAttributes(attribute.String("memory.user_id", userID)))
	defer span.End()

	if limit <= 0 {
		limit = r.defaultLim
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		slog.ErrorContext(ctx, "memory search embedding failed", "user_id", userID, "error", err)
		span.RecordError(err)
		metrics.MemorySearchesTotal.WithLabelValues("error").Inc()
		return &SearchResult{Success: false, Summary: "memory retrieval unavailable"}
	}

	hits, err := r.store.SearchMemories(ctx, userID, embedding, limit, r.threshold)
	if err != nil {
		slog.ErrorContext(ctx, "memory search query failed", "user_id", userID, "error", err)
		span.RecordError(err)
		metrics.MemorySearchesTotal.WithLabelValues("error").Inc()
		return &SearchResult{Success: false, Summary: "memory retrieval unavailable"}
	}

	total, err := r.store.CountMemories(ctx, userID)
	if err != nil {
		// Count is cosmetic; the hits are still good.
		slog.WarnContext(ctx, "memory count failed", "user_id", userID, "error", err)
		total = len(hits)
	}

	result := &SearchResult{
		Results:        make([]Chunk, 0, len(hits)),
		TotalDocuments: total,
		Success:        true,
	}
	for _, hit := range hits {
		result.Results = append(result.Results, Chunk{
			MemoryID: hit.Memory.ID,
			Content:  hit.Memory.Content,
			Score:    hit.Similarity,
			Tags:     hit.Memory.Tags,
		})
	}

	if len(hits) == 0 {
		result.Summary = "no relevant material found"
	} else {
		result.Summary = fmt.Sprintf("%d relevant memories found", len(hits))
	}

	span.SetAttributes(attribute.Int("memory.hits", len(hits)))
	metrics.MemorySearchesTotal.WithLabelValues("ok").Inc()
	return result
}

// TrackUsage records that retrieved memories were surfaced for a message.
// Failures are logged and swallowed.
func (r *Retriever) TrackUsage(ctx context.Context, conversationID, messageID string, chunks []Chunk) {
	for _, chunk := range chunks {
		use := &store.MemoryUse{
			ID:             id.NewMemoryUse(),
			MemoryID:       chunk.MemoryID,
			MessageID:      messageID,
			ConversationID: conversationID,
			Similarity:     chunk.Score,
			CreatedAt:      time.Now().UTC(),
		}
		if err := r.store.CreateMemoryUse(ctx, use); err != nil {
			slog.WarnContext(ctx, "memory usage tracking failed", "memory_id", chunk.MemoryID, "error", err)
		}
	}
}

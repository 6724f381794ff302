package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/longregen/marlowe/internal/metrics"
	"github.com/longregen/marlowe/internal/store"
	"github.com/longregen/marlowe/shared/id"
)

const promotionTimeout = 30 * time.Second

// RecordStore is the slice of the store the recorder needs.
type RecordStore interface {
	CreateInteraction(ctx context.Context, in *store.Interaction) error
	MarkInteractionPromoted(ctx context.Context, id string) error
	CreateMemory(ctx context.Context, mem *store.Memory) error
}

// TurnOutcome is everything the recorder needs from a completed turn.
type TurnOutcome struct {
	ConversationID string
	UserID         string
	UserMessage    string
	Response       string
	ToolsUsed      []string
	Helpful        *bool
}

// Recorder persists every completed turn and promotes a subset of them
// into long-term memory. Persistence is unconditional; promotion requires
// the user message to carry enough substance, or explicit positive
// feedback.
type Recorder struct {
	store     RecordStore
	embedder  Embedder
	minLength int
}

func NewRecorder(s RecordStore, embedder Embedder, promotionMinLength int) *Recorder {
	return &Recorder{store: s, embedder: embedder, minLength: promotionMinLength}
}

// Record writes the interaction and, when it qualifies, kicks off memory
// promotion in the background. The write error is returned; promotion
// errors never are.
func (r *Recorder) Record(ctx context.Context, outcome TurnOutcome) (*store.Interaction, error) {
	in := &store.Interaction{
		ID:             id.NewInteraction(),
		ConversationID: outcome.ConversationID,
		UserID:         outcome.UserID,
		UserMessage:    outcome.UserMessage,
		Response:       outcome.Response,
		ToolsUsed:      outcome.ToolsUsed,
		Helpful:        outcome.Helpful,
		CreatedAt:      time.Now().UTC(),
	}

	if err := r.store.CreateInteraction(ctx, in); err != nil {
		return nil, err
	}

	if r.ShouldPromote(outcome) {
		// Detached context: promotion must survive the turn ending.
		go r.promote(context.WithoutCancel(ctx), in)
	}

	return in, nil
}

// ShouldPromote reports whether a turn qualifies for long-term memory:
// either the user said enough to be worth keeping, or they explicitly
// marked the turn helpful.
func (r *Recorder) ShouldPromote(outcome TurnOutcome) bool {
	if len(outcome.UserMessage) > r.minLength {
		return true
	}
	return outcome.Helpful != nil && *outcome.Helpful
}

// PromoteIfHelpful promotes an interaction that was marked helpful after
// the fact. Already-promoted interactions are left alone.
func (r *Recorder) PromoteIfHelpful(ctx context.Context, in *store.Interaction) {
	if in.Promoted {
		return
	}
	go r.promote(context.WithoutCancel(ctx), in)
}

func (r *Recorder) promote(ctx context.Context, in *store.Interaction) {
	ctx, cancel := context.WithTimeout(ctx, promotionTimeout)
	defer cancel()

	embedding, err := r.embedder.Embed(ctx, in.UserMessage)
	if err != nil {
		slog.ErrorContext(ctx, "memory promotion embedding failed", "interaction_id", in.ID, "error", err)
		return
	}

	mem := &store.Memory{
		ID:                  id.NewMemory(),
		UserID:              in.UserID,
		Content:             in.UserMessage,
		Embedding:           embedding,
		Importance:          0.5,
		SourceInteractionID: &in.ID,
		Tags:                []string{},
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}

	if err := r.store.CreateMemory(ctx, mem); err != nil {
		slog.ErrorContext(ctx, "memory promotion failed", "interaction_id", in.ID, "error", err)
		return
	}

	if err := r.store.MarkInteractionPromoted(ctx, in.ID); err != nil {
		slog.WarnContext(ctx, "promotion flag update failed", "interaction_id", in.ID, "error", err)
	}

	metrics.MemoriesPromotedTotal.Inc()
	slog.InfoContext(ctx, "interaction promoted to memory", "interaction_id", in.ID, "memory_id", mem.ID)
}

package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/longregen/marlowe/internal/store"
)

type fakeRecordStore struct {
	mu           sync.Mutex
	interactions []*store.Interaction
	memories     []*store.Memory
	promoted     []string
	memErr       error
}

func (f *fakeRecordStore) CreateInteraction(ctx context.Context, in *store.Interaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interactions = append(f.interactions, in)
	return nil
}

func (f *fakeRecordStore) MarkInteractionPromoted(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promoted = append(f.promoted, id)
	return nil
}

func (f *fakeRecordStore) CreateMemory(ctx context.Context, mem *store.Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memErr != nil {
		return f.memErr
	}
	f.memories = append(f.memories, mem)
	return nil
}

func boolPtr(b bool) *bool { return &b }

func TestRecordAlwaysPersists(t *testing.T) {
	st := &fakeRecordStore{}
	r := NewRecorder(st, &fakeEmbedder{}, 40)

	in, err := r.Record(context.Background(), TurnOutcome{
		ConversationID: "conv_1",
		UserID:         "usr_1",
		UserMessage:    "hi",
		Response:       "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.ID == "" {
		t.Error("interaction missing ID")
	}
	if len(st.interactions) != 1 {
		t.Fatalf("got %d interactions, want 1", len(st.interactions))
	}
}

func TestShouldPromote(t *testing.T) {
	r := NewRecorder(&fakeRecordStore{}, &fakeEmbedder{}, 40)

	tests := []struct {
		name    string
		outcome TurnOutcome
		want    bool
	}{
		{"short, no feedback", TurnOutcome{UserMessage: "hi"}, false},
		{"long message", TurnOutcome{UserMessage: strings.Repeat("plans for the summer trip ", 4)}, true},
		{"short but helpful", TurnOutcome{UserMessage: "hi", Helpful: boolPtr(true)}, true},
		{"short and unhelpful", TurnOutcome{UserMessage: "hi", Helpful: boolPtr(false)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.ShouldPromote(tt.outcome); got != tt.want {
				t.Errorf("ShouldPromote = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPromoteCreatesMemory(t *testing.T) {
	st := &fakeRecordStore{}
	r := NewRecorder(st, &fakeEmbedder{}, 40)

	in := &store.Interaction{
		ID:          "int_1",
		UserID:      "usr_1",
		UserMessage: "I always take the coastal route when driving north",
	}
	r.promote(context.Background(), in)

	if len(st.memories) != 1 {
		t.Fatalf("got %d memories, want 1", len(st.memories))
	}
	mem := st.memories[0]
	if mem.UserID != "usr_1" {
		t.Errorf("memory UserID = %q", mem.UserID)
	}
	if mem.SourceInteractionID == nil || *mem.SourceInteractionID != "int_1" {
		t.Errorf("memory not linked to source interaction: %+v", mem.SourceInteractionID)
	}
	if len(st.promoted) != 1 || st.promoted[0] != "int_1" {
		t.Errorf("interaction not flagged promoted: %v", st.promoted)
	}
}

func TestPromoteFailureIsSwallowed(t *testing.T) {
	st := &fakeRecordStore{memErr: errors.New("disk full")}
	r := NewRecorder(st, &fakeEmbedder{}, 40)

	// Must not panic; interaction stays unpromoted.
	r.promote(context.Background(), &store.Interaction{ID: "int_1", UserMessage: "something long enough"})

	if len(st.promoted) != 0 {
		t.Error("failed promotion must not flag the interaction")
	}
}

func TestPromoteEmbedderFailureIsSwallowed(t *testing.T) {
	st := &fakeRecordStore{}
	r := NewRecorder(st, &fakeEmbedder{err: errors.New("model offline")}, 40)

	r.promote(context.Background(), &store.Interaction{ID: "int_1", UserMessage: "something"})

	if len(st.memories) != 0 {
		t.Error("no memory should be created when embedding fails")
	}
}

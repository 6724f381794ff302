package convctx

import (
	"context"
	"errors"
	"testing"

	"github.com/longregen/marlowe/internal/memory"
	"github.com/longregen/marlowe/internal/store"
)

type fakeRetriever struct {
	result *memory.SearchResult
}

func (f *fakeRetriever) Search(ctx context.Context, userID, query string, limit int) *memory.SearchResult {
	return f.result
}

type fakeHistory struct {
	msgs []*store.Message
	err  error
}

func (f *fakeHistory) RecentMessages(ctx context.Context, conversationID string, n int) ([]*store.Message, error) {
	return f.msgs, f.err
}

func TestBuildMergesAllSources(t *testing.T) {
	prefs := NewPreferencesStore()
	prefs.Update("usr_1", UserPreferences{CommunicationStyle: "terse"})
	prefs.SetProfile("usr_1", Profile{Name: "Sam", Timezone: "Europe/Berlin"})

	retriever := &fakeRetriever{result: &memory.SearchResult{
		Success: true,
		Results: []memory.Chunk{{MemoryID: "mem_1", Content: "likes lakes", Score: 0.9}},
		Summary: "1 relevant memories found",
	}}
	history := &fakeHistory{msgs: []*store.Message{
		{ID: "msg_1", Role: "user", Content: "hello"},
		{ID: "msg_2", Role: "assistant", Content: "hi"},
	}}

	b := NewBuilder(prefs, retriever, history)
	ec, err := b.Build(context.Background(), "usr_1", "conv_1", "plan a trip", []string{"memory_search"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ec.Preferences.CommunicationStyle != "terse" {
		t.Errorf("preferences not merged verbatim: %+v", ec.Preferences)
	}
	if ec.Profile.Name != "Sam" {
		t.Errorf("profile not merged: %+v", ec.Profile)
	}
	if ec.PersonalKnowledge == nil || len(ec.PersonalKnowledge.Results) != 1 {
		t.Errorf("personal knowledge missing: %+v", ec.PersonalKnowledge)
	}
	if ec.Flow.MessageCount != 2 || ec.Flow.IsNewSession {
		t.Errorf("flow descriptor wrong: %+v", ec.Flow)
	}
	if len(ec.Flow.RecentTools) != 1 {
		t.Errorf("recent tools not carried: %+v", ec.Flow.RecentTools)
	}
}

func TestBuildRetrievalFailureYieldsNilKnowledge(t *testing.T) {
	retriever := &fakeRetriever{result: &memory.SearchResult{Success: false}}
	b := NewBuilder(NewPreferencesStore(), retriever, &fakeHistory{})

	ec, err := b.Build(context.Background(), "usr_1", "conv_1", "anything", nil)
	if err != nil {
		t.Fatalf("retrieval failure must not fail the build: %v", err)
	}
	if ec.PersonalKnowledge != nil {
		t.Error("failed retrieval should leave PersonalKnowledge nil")
	}
}

func TestBuildEmptyRetrievalIsNotNil(t *testing.T) {
	retriever := &fakeRetriever{result: &memory.SearchResult{
		Success: true,
		Summary: "no relevant material found",
	}}
	b := NewBuilder(NewPreferencesStore(), retriever, &fakeHistory{})

	ec, _ := b.Build(context.Background(), "usr_1", "conv_1", "anything", nil)
	if ec.PersonalKnowledge == nil {
		t.Fatal("successful empty retrieval must be distinguishable from failure")
	}
	if len(ec.PersonalKnowledge.Results) != 0 {
		t.Errorf("expected no chunks, got %d", len(ec.PersonalKnowledge.Results))
	}
}

func TestBuildHistoryFailureDegrades(t *testing.T) {
	b := NewBuilder(NewPreferencesStore(), nil, &fakeHistory{err: errors.New("db down")})

	ec, err := b.Build(context.Background(), "usr_1", "conv_1", "anything", nil)
	if err != nil {
		t.Fatalf("history failure must not fail the build: %v", err)
	}
	if len(ec.History) != 0 {
		t.Error("expected empty history after load failure")
	}
}

func TestUnknownUserGetsDefaults(t *testing.T) {
	prefs := NewPreferencesStore()
	got := prefs.Get("usr_never_seen")
	want := DefaultPreferences()

	if got.MemoryRetrievalCount != want.MemoryRetrievalCount || got.MaxTokens != want.MaxTokens {
		t.Errorf("unknown user prefs = %+v, want defaults %+v", got, want)
	}
}

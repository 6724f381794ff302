package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/longregen/marlowe/internal/store"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeSearchStore struct {
	hits      []*store.MemoryHit
	searchErr error
	total     int
	uses      []*store.MemoryUse
	useErr    error
}

func (f *fakeSearchStore) SearchMemories(ctx context.Context, userID string, embedding []float32, limit int, threshold float32) ([]*store.MemoryHit, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

func (f *fakeSearchStore) CountMemories(ctx context.Context, userID string) (int, error) {
	return f.total, nil
}

func (f *fakeSearchStore) CreateMemoryUse(ctx context.Context, use *store.MemoryUse) error {
	if f.useErr != nil {
		return f.useErr
	}
	f.uses = append(f.uses, use)
	return nil
}

func TestSearchReturnsChunks(t *testing.T) {
	st := &fakeSearchStore{
		hits: []*store.MemoryHit{
			{Memory: &store.Memory{ID: "mem_1", Content: "likes lakes"}, Similarity: 0.9},
			{Memory: &store.Memory{ID: "mem_2", Content: "owns a tent"}, Similarity: 0.8},
		},
		total: 12,
	}
	r := NewRetriever(st, &fakeEmbedder{}, 0.7, 4)

	res := r.Search(context.Background(), "usr_1", "camping gear", 0)
	if !res.Success {
		t.Fatal("expected success")
	}
	if len(res.Results) != 2 {
		t.Fatalf("got %d chunks, want 2", len(res.Results))
	}
	if res.Results[0].MemoryID != "mem_1" || res.Results[0].Score != 0.9 {
		t.Errorf("first chunk = %+v", res.Results[0])
	}
	if res.TotalDocuments != 12 {
		t.Errorf("TotalDocuments = %d, want 12", res.TotalDocuments)
	}
	if res.Summary == "" {
		t.Error("expected non-empty summary")
	}
}

func TestSearchNoMatchesIsStillSuccess(t *testing.T) {
	r := NewRetriever(&fakeSearchStore{total: 5}, &fakeEmbedder{}, 0.7, 4)

	res := r.Search(context.Background(), "usr_1", "quantum chromodynamics", 0)
	if !res.Success {
		t.Fatal("zero matches should be a successful search")
	}
	if len(res.Results) != 0 {
		t.Errorf("expected no chunks, got %d", len(res.Results))
	}
	if res.Summary != "no relevant material found" {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestSearchEmbedderFailure(t *testing.T) {
	r := NewRetriever(&fakeSearchStore{}, &fakeEmbedder{err: errors.New("model offline")}, 0.7, 4)

	res := r.Search(context.Background(), "usr_1", "anything", 0)
	if res.Success {
		t.Fatal("collaborator failure must surface as Success=false")
	}
	if len(res.Results) != 0 {
		t.Error("failed search should carry no results")
	}
}

func TestSearchStoreFailure(t *testing.T) {
	st := &fakeSearchStore{searchErr: errors.New("connection refused")}
	r := NewRetriever(st, &fakeEmbedder{}, 0.7, 4)

	res := r.Search(context.Background(), "usr_1", "anything", 0)
	if res.Success {
		t.Fatal("store failure must surface as Success=false")
	}
}

func TestTrackUsageSwallowsErrors(t *testing.T) {
	st := &fakeSearchStore{useErr: errors.New("insert failed")}
	r := NewRetriever(st, &fakeEmbedder{}, 0.7, 4)

	// Must not panic or propagate.
	r.TrackUsage(context.Background(), "conv_1", "msg_1", []Chunk{
		{MemoryID: "mem_1", Score: 0.9},
	})
}

func TestTrackUsageRecordsEachChunk(t *testing.T) {
	st := &fakeSearchStore{}
	r := NewRetriever(st, &fakeEmbedder{}, 0.7, 4)

	r.TrackUsage(context.Background(), "conv_1", "msg_1", []Chunk{
		{MemoryID: "mem_1", Score: 0.9},
		{MemoryID: "mem_2", Score: 0.8},
	})

	if len(st.uses) != 2 {
		t.Fatalf("got %d uses, want 2", len(st.uses))
	}
	if st.uses[0].MemoryID != "mem_1" || st.uses[0].ConversationID != "conv_1" {
		t.Errorf("first use = %+v", st.uses[0])
	}
}

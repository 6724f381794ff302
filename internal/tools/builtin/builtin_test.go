package builtin

import (
	"context"
	"testing"

	"github.com/longregen/marlowe/internal/convctx"
	"github.com/longregen/marlowe/internal/memory"
	"github.com/longregen/marlowe/internal/store"
	"github.com/longregen/marlowe/internal/tools"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type stubSearchStore struct {
	lastUserID string
}

func (s *stubSearchStore) SearchMemories(ctx context.Context, userID string, embedding []float32, limit int, threshold float32) ([]*store.MemoryHit, error) {
	s.lastUserID = userID
	return []*store.MemoryHit{
		{Memory: &store.Memory{ID: "mem_1", UserID: userID, Content: "likes lakes"}, Similarity: 0.9},
	}, nil
}

func (s *stubSearchStore) CountMemories(ctx context.Context, userID string) (int, error) {
	return 1, nil
}

func (s *stubSearchStore) CreateMemoryUse(ctx context.Context, use *store.MemoryUse) error {
	return nil
}

func TestRegisterAllWiresBothTools(t *testing.T) {
	reg := tools.NewRegistry()
	retriever := memory.NewRetriever(&stubSearchStore{}, stubEmbedder{}, 0.7, 4)
	prefs := convctx.NewPreferencesStore()

	if err := RegisterAll(reg, retriever, prefs); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}

	if _, ok := reg.Get("memory_search"); !ok {
		t.Error("memory_search not registered")
	}
	def, ok := reg.Get("user_context")
	if !ok {
		t.Fatal("user_context not registered")
	}
	if !def.AlwaysInclude {
		t.Error("user_context must be AlwaysInclude")
	}
}

func TestMemorySearchScopedToCaller(t *testing.T) {
	reg := tools.NewRegistry()
	st := &stubSearchStore{}
	retriever := memory.NewRetriever(st, stubEmbedder{}, 0.7, 4)
	if err := RegisterMemorySearch(reg, retriever); err != nil {
		t.Fatal(err)
	}

	engine := tools.NewEngine(reg)
	res := engine.Execute(context.Background(), "memory_search", map[string]any{
		"query":   "camping",
		"user_id": "usr_forged",
	}, "usr_real")

	if !res.Success {
		t.Fatalf("execute failed: %s %s", res.Error, res.Message)
	}
	if st.lastUserID != "usr_real" {
		t.Errorf("search ran as %q, want authenticated user usr_real", st.lastUserID)
	}
}

func TestUserContextReturnsProfileAndPrefs(t *testing.T) {
	reg := tools.NewRegistry()
	prefs := convctx.NewPreferencesStore()
	prefs.SetProfile("usr_1", convctx.Profile{Name: "Sam"})
	if err := RegisterUserContext(reg, prefs); err != nil {
		t.Fatal(err)
	}

	engine := tools.NewEngine(reg)
	res := engine.Execute(context.Background(), "user_context", nil, "usr_1")
	if !res.Success {
		t.Fatalf("execute failed: %s %s", res.Error, res.Message)
	}

	data, ok := res.Data.(map[string]any)
	if !ok {
		t.Fatalf("unexpected data shape: %T", res.Data)
	}
	profile, ok := data["profile"].(convctx.Profile)
	if !ok || profile.Name != "Sam" {
		t.Errorf("profile = %+v", data["profile"])
	}
	if _, ok := data["preferences"]; !ok {
		t.Error("preferences missing from user context")
	}
}

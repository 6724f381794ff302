package builtin

import (
	"context"
	"fmt"

	"github.com/longregen/marlowe/internal/memory"
	"github.com/longregen/marlowe/internal/tools"
)

// RegisterMemorySearch registers the semantic memory search tool. The
// handler searches only the calling user's memories; the engine injects
// user_id, so a forged parameter never reaches this code.
func RegisterMemorySearch(reg *tools.Registry, retriever *memory.Retriever) error {
	def := tools.Definition{
		Name:        "memory_search",
		Description: "Searches the user's long-term memories for information relevant to a query.",
		Category:    "memory",
		Keywords:    []string{"remember", "memory", "notes", "saved", "recall", "preferences", "mentioned", "before"},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look for in the user's memories",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of memories to return",
					"default":     4,
				},
			},
			"required": []string{"query"},
		},
	}

	return reg.Register(def, func(ctx context.Context, params map[string]any) (any, error) {
		query, ok := params["query"].(string)
		if !ok || query == "" {
			return nil, fmt.Errorf("query must be a non-empty string")
		}
		userID, _ := params[tools.UserIDParam].(string)

		limit := 0
		switch v := params["limit"].(type) {
		case float64:
			limit = int(v)
		case int:
			limit = v
		}

		result := retriever.Search(ctx, userID, query, limit)
		if !result.Success {
			return nil, fmt.Errorf("memory search unavailable")
		}
		return result, nil
	})
}

package tools

import (
	"context"
	"testing"
)

func nopHandler(ctx context.Context, params map[string]any) (any, error) {
	return nil, nil
}

func buildCatalog(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()

	reg.MustRegister(Definition{
		Name:          "user_context",
		Category:      "context",
		AlwaysInclude: true,
	}, nopHandler)
	reg.MustRegister(Definition{
		Name:     "memory_search",
		Category: "memory",
		Keywords: []string{"remember", "notes", "saved", "find", "preferences", "usual"},
	}, nopHandler)
	reg.MustRegister(Definition{
		Name:     "weather_lookup",
		Category: "weather",
		Keywords: []string{"weather", "forecast", "temperature", "rain"},
	}, nopHandler)
	reg.MustRegister(Definition{
		Name:     "trip_planner",
		Category: "travel",
		Keywords: []string{"trip", "travel", "plan", "itinerary", "camping"},
	}, nopHandler)
	reg.MustRegister(Definition{
		Name:     "unit_converter",
		Category: "math",
		Keywords: []string{"convert", "units", "metric"},
	}, nopHandler)
	reg.MustRegister(Definition{
		Name:     "stock_quotes",
		Category: "finance",
		Keywords: []string{"stock", "price", "shares", "market"},
	}, nopHandler)
	reg.MustRegister(Definition{
		Name:     "recipe_search",
		Category: "cooking",
		Keywords: []string{"recipe", "cook", "ingredients", "dinner"},
	}, nopHandler)
	reg.Seal()
	return reg
}

func names(defs []Definition) map[string]bool {
	out := make(map[string]bool, len(defs))
	for _, d := range defs {
		out[d.Name] = true
	}
	return out
}

func TestSelectBoundsAndRelevance(t *testing.T) {
	reg := buildCatalog(t)
	sel := NewSelector(reg, 4)

	msg := "find my notes about camping and plan a trip using my usual preferences"
	got := sel.Select(msg, nil)

	if len(got) == 0 {
		t.Fatal("selector returned no tools")
	}
	if len(got) > 4 {
		t.Fatalf("selector returned %d tools, cap is 4", len(got))
	}
	if len(got) == reg.Len() {
		t.Fatal("selector returned the entire catalog")
	}

	set := names(got)
	if !set["memory_search"] {
		t.Error("expected memory_search for a message about saved notes and preferences")
	}
	if !set["trip_planner"] {
		t.Error("expected trip_planner for a message about planning a trip")
	}
	if !set["user_context"] {
		t.Error("always-include tool missing from selection")
	}
	if set["stock_quotes"] || set["recipe_search"] {
		t.Errorf("irrelevant tools selected: %v", got)
	}
}

func TestSelectDeterministic(t *testing.T) {
	reg := buildCatalog(t)
	sel := NewSelector(reg, 3)
	msg := "plan a camping trip and check the weather forecast"

	first := sel.Select(msg, nil)
	for i := 0; i < 10; i++ {
		again := sel.Select(msg, nil)
		if len(again) != len(first) {
			t.Fatalf("selection size changed between runs: %d vs %d", len(again), len(first))
		}
		for j := range first {
			if again[j].Name != first[j].Name {
				t.Fatalf("selection order changed: run %d position %d got %s want %s",
					i, j, again[j].Name, first[j].Name)
			}
		}
	}
}

func TestSelectRecencyBoost(t *testing.T) {
	reg := buildCatalog(t)
	sel := NewSelector(reg, 2)

	// Message matches nothing by keyword; only recency should surface a tool.
	got := sel.Select("ok thanks, do that again", []string{"weather_lookup"})

	set := names(got)
	if !set["weather_lookup"] {
		t.Errorf("recently used tool should be boosted into selection, got %v", got)
	}
}

func TestSelectSmallCatalogPassesThrough(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Definition{Name: "only_tool"}, nopHandler)
	reg.Seal()

	sel := NewSelector(reg, 6)
	got := sel.Select("anything at all", nil)
	if len(got) != 1 || got[0].Name != "only_tool" {
		t.Fatalf("catalog under the cap should pass through unchanged, got %v", got)
	}
}

func TestSelectExplicitNameMention(t *testing.T) {
	reg := buildCatalog(t)
	sel := NewSelector(reg, 2)

	got := sel.Select("use the unit converter on this", nil)
	if !names(got)["unit_converter"] {
		t.Errorf("explicitly named tool should rank first, got %v", got)
	}
}

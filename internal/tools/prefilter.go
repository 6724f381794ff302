package tools

import (
	"sort"
	"strings"
)

// Scoring weights for the prefilter. Explicit name mentions dominate,
// keyword hits accumulate, recent use nudges ties.
const (
	nameMentionScore = 10.0
	keywordHitScore  = 2.0
	categoryHitScore = 1.0
	recentUseScore   = 1.5
)

// Selector narrows the registry down to at most maxTools definitions per
// model call. Exposing every schema on every request wastes context and
// measurably degrades tool-choice accuracy, so the selector scores each
// tool against the message and keeps only the best candidates.
type Selector struct {
	registry *Registry
	maxTools int
}

func NewSelector(registry *Registry, maxTools int) *Selector {
	if maxTools < 1 {
		maxTools = 1
	}
	return &Selector{registry: registry, maxTools: maxTools}
}

// Select returns the definitions to expose for a user message. Tools
// marked AlwaysInclude are never dropped and do not consume ranking
// slots ahead of scored candidates; among scored tools, ties break on
// registration order so the same input always yields the same set.
func (s *Selector) Select(message string, recentTools []string) []Definition {
	all := s.registry.List()
	if len(all) <= s.maxTools {
		return all
	}

	lower := strings.ToLower(message)
	words := tokenize(lower)
	recent := make(map[string]bool, len(recentTools))
	for _, name := range recentTools {
		recent[name] = true
	}

	type scored struct {
		def   Definition
		score float64
	}

	var forced []Definition
	var candidates []scored
	for _, def := range all {
		if def.AlwaysInclude {
			forced = append(forced, def)
			continue
		}
		sc := s.score(def, lower, words, recent)
		if sc > 0 {
			candidates = append(candidates, scored{def: def, score: sc})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return s.registry.Index(candidates[i].def.Name) < s.registry.Index(candidates[j].def.Name)
	})

	remaining := s.maxTools - len(forced)
	if remaining < 0 {
		remaining = 0
	}
	if len(candidates) > remaining {
		candidates = candidates[:remaining]
	}

	out := make([]Definition, 0, len(forced)+len(candidates))
	out = append(out, forced...)
	for _, c := range candidates {
		out = append(out, c.def)
	}
	return out
}

func (s *Selector) score(def Definition, lowerMessage string, words map[string]bool, recent map[string]bool) float64 {
	var score float64

	// "search_notes" mentioned as "search notes" still counts.
	spokenName := strings.ReplaceAll(strings.ToLower(def.Name), "_", " ")
	if strings.Contains(lowerMessage, spokenName) {
		score += nameMentionScore
	}

	for _, kw := range def.Keywords {
		if words[strings.ToLower(kw)] {
			score += keywordHitScore
		}
	}

	if def.Category != "" && words[strings.ToLower(def.Category)] {
		score += categoryHitScore
	}

	if recent[def.Name] {
		score += recentUseScore
	}

	return score
}

func tokenize(lower string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		words[w] = true
	}
	return words
}

// Package preferences provides shared preference defaults embedded at compile time.
package preferences

import (
	_ "embed"
	"encoding/json"
	"log"
)

//go:embed defaults.json
var defaultsJSON []byte

// Defaults holds all preference default values, parsed from defaults.json at init.
type Defaults struct {
	MemoryRetrievalCount      int     `json:"memory_retrieval_count"`
	MemorySimilarityThreshold float32 `json:"memory_similarity_threshold"`
	PrefilterMaxTools         int     `json:"prefilter_max_tools"`
	PromotionMinLength        int     `json:"promotion_min_length"`
	MaxTokens                 int     `json:"max_tokens"`
	Temperature               float32 `json:"temperature"`
	OfflineMessagingEnabled   bool    `json:"offline_messaging_enabled"`
	ShowRelevanceScores       bool    `json:"show_relevance_scores"`
}

var defaults Defaults

func init() {
	if err := json.Unmarshal(defaultsJSON, &defaults); err != nil {
		log.Fatalf("failed to parse embedded preferences defaults: %v", err)
	}
}

// Get returns the parsed preference defaults.
func Get() Defaults {
	return defaults
}

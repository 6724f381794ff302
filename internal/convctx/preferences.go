// Package convctx assembles the enhanced context for a turn: the user's
// preferences and profile, retrieved personal knowledge, and the shape of
// the conversation so far. Context assembly enriches a turn and must
// never fail it.
package convctx

import (
	"sync"

	"github.com/longregen/marlowe/shared/preferences"
)

// UserPreferences are the per-user knobs that flow verbatim into the
// model context and tune retrieval.
type UserPreferences struct {
	CommunicationStyle        string   `json:"communication_style,omitempty"`
	Interests                 []string `json:"interests,omitempty"`
	MemoryRetrievalCount      int      `json:"memory_retrieval_count"`
	MemorySimilarityThreshold float32  `json:"memory_similarity_threshold"`
	MaxTokens                 int      `json:"max_tokens"`
	Temperature               float32  `json:"temperature"`
	ShowRelevanceScores       bool     `json:"show_relevance_scores"`
	OfflineMessagingEnabled   bool     `json:"offline_messaging_enabled"`
}

// Profile is static identity information about the user.
type Profile struct {
	Name     string `json:"name,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Locale   string `json:"locale,omitempty"`
}

func DefaultPreferences() UserPreferences {
	d := preferences.Get()
	return UserPreferences{
		MemoryRetrievalCount:      d.MemoryRetrievalCount,
		MemorySimilarityThreshold: d.MemorySimilarityThreshold,
		MaxTokens:                 d.MaxTokens,
		Temperature:               d.Temperature,
		ShowRelevanceScores:       d.ShowRelevanceScores,
		OfflineMessagingEnabled:   d.OfflineMessagingEnabled,
	}
}

// PreferencesStore holds per-user preferences and profiles in memory.
// Unknown users get the embedded defaults.
type PreferencesStore struct {
	mu       sync.RWMutex
	prefs    map[string]UserPreferences
	profiles map[string]Profile
}

func NewPreferencesStore() *PreferencesStore {
	return &PreferencesStore{
		prefs:    make(map[string]UserPreferences),
		profiles: make(map[string]Profile),
	}
}

func (s *PreferencesStore) Get(userID string) UserPreferences {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.prefs[userID]; ok {
		return p
	}
	return DefaultPreferences()
}

func (s *PreferencesStore) Update(userID string, p UserPreferences) {
	defaults := DefaultPreferences()
	if p.MemoryRetrievalCount == 0 {
		p.MemoryRetrievalCount = defaults.MemoryRetrievalCount
	}
	if p.MemorySimilarityThreshold == 0 {
		p.MemorySimilarityThreshold = defaults.MemorySimilarityThreshold
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = defaults.MaxTokens
	}
	if p.Temperature == 0 {
		p.Temperature = defaults.Temperature
	}

	s.mu.Lock()
	s.prefs[userID] = p
	s.mu.Unlock()
}

func (s *PreferencesStore) GetProfile(userID string) Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[userID]
}

func (s *PreferencesStore) SetProfile(userID string, p Profile) {
	s.mu.Lock()
	s.profiles[userID] = p
	s.mu.Unlock()
}

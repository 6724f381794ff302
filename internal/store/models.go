package store

import "time"

// Memory is a durable, embedded piece of knowledge about a user,
// retrievable by semantic similarity.
type Memory struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	Content             string     `json:"content"`
	Embedding           []float32  `json:"-"` // pgvector, not exposed via API
	Importance          float32    `json:"importance"`
	Pinned              bool       `json:"pinned"`
	Archived            bool       `json:"archived"`
	SourceInteractionID *string    `json:"source_interaction_id,omitempty"`
	Tags                []string   `json:"tags"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	DeletedAt           *time.Time `json:"-"`
}

// MemoryHit is a search result with its cosine similarity to the query.
type MemoryHit struct {
	Memory     *Memory `json:"memory"`
	Similarity float32 `json:"similarity"`
}

// MemoryUse records that a memory was surfaced while answering a message.
type MemoryUse struct {
	ID             string    `json:"id"`
	MemoryID       string    `json:"memory_id"`
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Similarity     float32   `json:"similarity"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation groups messages for one user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn entry in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Interaction is the always-written record of a completed turn: what the
// user asked, what came back, and which tools ran. Promotion to long-term
// memory is a separate, conditional step.
type Interaction struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	UserMessage    string    `json:"user_message"`
	Response       string    `json:"response"`
	ToolsUsed      []string  `json:"tools_used"`
	Helpful        *bool     `json:"helpful,omitempty"`
	Promoted       bool      `json:"promoted"`
	CreatedAt      time.Time `json:"created_at"`
}

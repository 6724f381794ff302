package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// CreateMemory inserts a new memory.
func (s *Store) CreateMemory(ctx context.Context, mem *Memory) error {
	query := `
		INSERT INTO memories (id, user_id, content, embedding, importance, pinned, archived, source_interaction_id, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	var embedding *pgvector.Vector
	if len(mem.Embedding) > 0 {
		v := pgvector.NewVector(mem.Embedding)
		embedding = &v
	}

	_, err := s.conn(ctx).Exec(ctx, query,
		mem.ID, mem.UserID, mem.Content, embedding, mem.Importance,
		mem.Pinned, mem.Archived, mem.SourceInteractionID, mem.Tags,
		mem.CreatedAt, mem.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create memory: %w", err)
	}
	return nil
}

// GetMemory retrieves a memory by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (*Memory, error) {
	query := `
		SELECT id, user_id, content, importance, pinned, archived, source_interaction_id, tags, created_at, updated_at
		FROM memories
		WHERE id = $1 AND deleted_at IS NULL`

	mem := &Memory{}
	err := s.conn(ctx).QueryRow(ctx, query, id).Scan(
		&mem.ID, &mem.UserID, &mem.Content, &mem.Importance,
		&mem.Pinned, &mem.Archived, &mem.SourceInteractionID, &mem.Tags,
		&mem.CreatedAt, &mem.UpdatedAt)
	if err != nil {
		return nil, wrapNotFound("get memory", err)
	}
	return mem, nil
}

// UpdateMemory updates a memory's mutable fields.
func (s *Store) UpdateMemory(ctx context.Context, mem *Memory) error {
	query := `
		UPDATE memories
		SET content = $2, importance = $3, pinned = $4, archived = $5, tags = $6, updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL`

	mem.UpdatedAt = time.Now().UTC()
	_, err := s.conn(ctx).Exec(ctx, query,
		mem.ID, mem.Content, mem.Importance,
		mem.Pinned, mem.Archived, mem.Tags, mem.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	return nil
}

// DeleteMemory soft-deletes a memory.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	query := `UPDATE memories SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	result, err := s.conn(ctx).Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchMemories returns a user's memories ordered by similarity to the
// query embedding, keeping only those above the similarity threshold.
func (s *Store) SearchMemories(ctx context.Context, userID string, embedding []float32, limit int, threshold float32) ([]*MemoryHit, error) {
	query := `
		SELECT id, user_id, content, importance, pinned, archived, source_interaction_id, tags, created_at, updated_at,
		       1 - (embedding <=> $2) AS similarity
		FROM memories
		WHERE user_id = $1 AND deleted_at IS NULL AND archived = false
		  AND embedding <=> $2 < $4
		ORDER BY embedding <=> $2
		LIMIT $3`

	rows, err := s.conn(ctx).Query(ctx, query, userID, pgvector.NewVector(embedding), limit, 1-threshold)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	return scanMemoryHits(rows)
}

// CountMemories returns the number of live memories for a user.
func (s *Store) CountMemories(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM memories WHERE user_id = $1 AND deleted_at IS NULL AND archived = false`
	var total int
	if err := s.conn(ctx).QueryRow(ctx, query, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return total, nil
}

// ListMemories returns a user's live memories by importance.
func (s *Store) ListMemories(ctx context.Context, userID string, limit, offset int) ([]*Memory, error) {
	query := `
		SELECT id, user_id, content, importance, pinned, archived, source_interaction_id, tags, created_at, updated_at
		FROM memories
		WHERE user_id = $1 AND deleted_at IS NULL AND archived = false
		ORDER BY importance DESC, created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.conn(ctx).Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var mems []*Memory
	for rows.Next() {
		mem := &Memory{}
		if err := rows.Scan(
			&mem.ID, &mem.UserID, &mem.Content, &mem.Importance,
			&mem.Pinned, &mem.Archived, &mem.SourceInteractionID, &mem.Tags,
			&mem.CreatedAt, &mem.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		mems = append(mems, mem)
	}
	return mems, rows.Err()
}

func scanMemoryHits(rows pgx.Rows) ([]*MemoryHit, error) {
	var hits []*MemoryHit
	for rows.Next() {
		mem := &Memory{}
		var similarity float32
		if err := rows.Scan(
			&mem.ID, &mem.UserID, &mem.Content, &mem.Importance,
			&mem.Pinned, &mem.Archived, &mem.SourceInteractionID, &mem.Tags,
			&mem.CreatedAt, &mem.UpdatedAt, &similarity); err != nil {
			return nil, fmt.Errorf("scan memory hit: %w", err)
		}
		hits = append(hits, &MemoryHit{Memory: mem, Similarity: similarity})
	}
	return hits, rows.Err()
}

// CreateMemoryUse records that a memory was surfaced for a message.
func (s *Store) CreateMemoryUse(ctx context.Context, use *MemoryUse) error {
	query := `
		INSERT INTO memory_uses (id, memory_id, message_id, conversation_id, similarity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.conn(ctx).Exec(ctx, query,
		use.ID, use.MemoryID, use.MessageID,
		use.ConversationID, use.Similarity, use.CreatedAt)
	if err != nil {
		return fmt.Errorf("create memory use: %w", err)
	}
	return nil
}

// GetMemoryUsesByMessage returns memory uses for a message, most similar first.
func (s *Store) GetMemoryUsesByMessage(ctx context.Context, messageID string) ([]*MemoryUse, error) {
	query := `
		SELECT id, memory_id, message_id, conversation_id, similarity, created_at
		FROM memory_uses
		WHERE message_id = $1
		ORDER BY similarity DESC`

	rows, err := s.conn(ctx).Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("get memory uses: %w", err)
	}
	defer rows.Close()

	var uses []*MemoryUse
	for rows.Next() {
		u := &MemoryUse{}
		if err := rows.Scan(&u.ID, &u.MemoryID, &u.MessageID, &u.ConversationID, &u.Similarity, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory use: %w", err)
		}
		uses = append(uses, u)
	}
	return uses, rows.Err()
}

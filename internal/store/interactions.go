package store

import (
	"context"
	"fmt"
)

// CreateInteraction persists a completed turn record.
func (s *Store) CreateInteraction(ctx context.Context, in *Interaction) error {
	query := `
		INSERT INTO interactions (id, conversation_id, user_id, user_message, response, tools_used, helpful, promoted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.conn(ctx).Exec(ctx, query,
		in.ID, in.ConversationID, in.UserID, in.UserMessage, in.Response,
		in.ToolsUsed, in.Helpful, in.Promoted, in.CreatedAt)
	if err != nil {
		return fmt.Errorf("create interaction: %w", err)
	}
	return nil
}

// GetInteraction retrieves an interaction by ID.
func (s *Store) GetInteraction(ctx context.Context, id string) (*Interaction, error) {
	query := `
		SELECT id, conversation_id, user_id, user_message, response, tools_used, helpful, promoted, created_at
		FROM interactions
		WHERE id = $1`

	in := &Interaction{}
	err := s.conn(ctx).QueryRow(ctx, query, id).Scan(
		&in.ID, &in.ConversationID, &in.UserID, &in.UserMessage, &in.Response,
		&in.ToolsUsed, &in.Helpful, &in.Promoted, &in.CreatedAt)
	if err != nil {
		return nil, wrapNotFound("get interaction", err)
	}
	return in, nil
}

// SetInteractionFeedback records whether the user found the turn helpful.
func (s *Store) SetInteractionFeedback(ctx context.Context, id string, helpful bool) error {
	query := `UPDATE interactions SET helpful = $2 WHERE id = $1`
	result, err := s.conn(ctx).Exec(ctx, query, id, helpful)
	if err != nil {
		return fmt.Errorf("set interaction feedback: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkInteractionPromoted flags an interaction as promoted to memory.
func (s *Store) MarkInteractionPromoted(ctx context.Context, id string) error {
	query := `UPDATE interactions SET promoted = true WHERE id = $1`
	result, err := s.conn(ctx).Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark interaction promoted: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListInteractionsByConversation returns a conversation's interactions,
// oldest first.
func (s *Store) ListInteractionsByConversation(ctx context.Context, conversationID string) ([]*Interaction, error) {
	query := `
		SELECT id, conversation_id, user_id, user_message, response, tools_used, helpful, promoted, created_at
		FROM interactions
		WHERE conversation_id = $1
		ORDER BY created_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	var ins []*Interaction
	for rows.Next() {
		in := &Interaction{}
		if err := rows.Scan(
			&in.ID, &in.ConversationID, &in.UserID, &in.UserMessage, &in.Response,
			&in.ToolsUsed, &in.Helpful, &in.Promoted, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		ins = append(ins, in)
	}
	return ins, rows.Err()
}

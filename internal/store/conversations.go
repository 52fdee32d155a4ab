package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariavoice/aria/internal/domain"
)

func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	return s.withRetry(ctx, "create conversation", func(ctx context.Context) error {
		_, err := s.conn(ctx).Exec(ctx, query,
			conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
		return err
	})
}

func (s *Store) GetConversation(ctx context.Context, id, userID string) (*domain.Conversation, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`

	conv := &domain.Conversation{}
	err := s.conn(ctx).QueryRow(ctx, query, id, userID).Scan(
		&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) error {
	query := `
		UPDATE conversations
		SET title = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL`

	result, err := s.conn(ctx).Exec(ctx, query, id, title, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update conversation title: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// TouchConversation bumps updated_at so listings sort by recent activity.
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	query := `UPDATE conversations SET updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	if _, err := s.conn(ctx).Exec(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, id, userID string) error {
	query := `
		UPDATE conversations SET deleted_at = $3
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`

	result, err := s.conn(ctx).Exec(ctx, query, id, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListConversations pages a user's conversations by recent activity. A
// non-empty agentID narrows the listing to conversations that agent has
// spoken in, so limit=1 yields the agent's latest conversation.
func (s *Store) ListConversations(ctx context.Context, userID, agentID string, limit, offset int) ([]*domain.Conversation, int, error) {
	filter := ""
	args := []any{userID}
	if agentID != "" {
		filter = ` AND EXISTS (
			SELECT 1 FROM messages m
			JOIN frames f ON f.id = m.frame_id
			WHERE f.conversation_id = c.id AND m.agent_id = $2)`
		args = append(args, agentID)
	}

	countQuery := `SELECT COUNT(*) FROM conversations c WHERE c.user_id = $1 AND c.deleted_at IS NULL` + filter
	var total int
	if err := s.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.user_id, c.title, c.created_at, c.updated_at
		FROM conversations c
		WHERE c.user_id = $1 AND c.deleted_at IS NULL%s
		ORDER BY c.updated_at DESC
		LIMIT $%d OFFSET $%d`, filter, len(args)+1, len(args)+2)

	rows, err := s.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*domain.Conversation
	for rows.Next() {
		conv := &domain.Conversation{}
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, total, rows.Err()
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariavoice/aria/internal/domain"
)

func (s *Store) CreateFrame(ctx context.Context, frame *domain.Frame) error {
	query := `
		INSERT INTO frames (id, conversation_id, summary, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	return s.withRetry(ctx, "create frame", func(ctx context.Context) error {
		_, err := s.conn(ctx).Exec(ctx, query,
			frame.ID, frame.ConversationID, frame.Summary, frame.CreatedAt, frame.UpdatedAt)
		return err
	})
}

func (s *Store) GetFrame(ctx context.Context, id string) (*domain.Frame, error) {
	query := `
		SELECT id, conversation_id, summary, created_at, updated_at
		FROM frames
		WHERE id = $1`

	frame := &domain.Frame{}
	err := s.conn(ctx).QueryRow(ctx, query, id).Scan(
		&frame.ID, &frame.ConversationID, &frame.Summary, &frame.CreatedAt, &frame.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get frame: %w", err)
	}
	return frame, nil
}

// CurrentFrame returns the newest frame of a conversation together with the
// timestamp of its newest message (nil when the frame is empty). Callers use
// the timestamp to decide whether the frame has gone idle.
func (s *Store) CurrentFrame(ctx context.Context, conversationID string) (*domain.Frame, *time.Time, error) {
	query := `
		SELECT f.id, f.conversation_id, f.summary, f.created_at, f.updated_at,
		       (SELECT MAX(m.created_at) FROM messages m WHERE m.frame_id = f.id)
		FROM frames f
		WHERE f.conversation_id = $1
		ORDER BY f.created_at DESC
		LIMIT 1`

	frame := &domain.Frame{}
	var lastActivity *time.Time
	err := s.conn(ctx).QueryRow(ctx, query, conversationID).Scan(
		&frame.ID, &frame.ConversationID, &frame.Summary,
		&frame.CreatedAt, &frame.UpdatedAt, &lastActivity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, domain.ErrNotFound
		}
		return nil, nil, fmt.Errorf("current frame: %w", err)
	}
	return frame, lastActivity, nil
}

func (s *Store) UpdateFrameSummary(ctx context.Context, id, summary string) error {
	query := `UPDATE frames SET summary = $2, updated_at = $3 WHERE id = $1`
	result, err := s.conn(ctx).Exec(ctx, query, id, summary, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update frame summary: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListFrames(ctx context.Context, conversationID string) ([]*domain.Frame, error) {
	query := `
		SELECT id, conversation_id, summary, created_at, updated_at
		FROM frames
		WHERE conversation_id = $1
		ORDER BY created_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	var frames []*domain.Frame
	for rows.Next() {
		frame := &domain.Frame{}
		if err := rows.Scan(&frame.ID, &frame.ConversationID, &frame.Summary,
			&frame.CreatedAt, &frame.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		frames = append(frames, frame)
	}
	return frames, rows.Err()
}

// ListFrameSummaries returns the summaries of closed frames, oldest first.
// Frames still awaiting their summarize job are skipped.
func (s *Store) ListFrameSummaries(ctx context.Context, conversationID string) ([]string, error) {
	query := `
		SELECT summary
		FROM frames
		WHERE conversation_id = $1 AND summary IS NOT NULL
		ORDER BY created_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list frame summaries: %w", err)
	}
	defer rows.Close()

	var summaries []string
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, fmt.Errorf("scan frame summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

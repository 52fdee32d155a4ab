package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariavoice/aria/internal/domain"
)

const messageColumns = `id, frame_id, agent_id, role, content, thinking, tool_calls, tool_call_id, images, raw_input, raw_output, speaker_name, created_at, updated_at`

// AppendMessage durably inserts a complete message. Used for user turns,
// tool results, and any message not built up by streaming.
func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	toolCalls, err := marshalToolCalls(msg.ToolCalls)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	return s.withRetry(ctx, "append message", func(ctx context.Context) error {
		_, err := s.conn(ctx).Exec(ctx, query,
			msg.ID, msg.FrameID, msg.AgentID, msg.Role, msg.Content, msg.Thinking,
			toolCalls, msg.ToolCallID, msg.Images, msg.RawInput, msg.RawOutput,
			msg.SpeakerName, msg.CreatedAt, msg.UpdatedAt)
		return err
	})
}

// UpsertStreamingMessage writes the current accumulation of a streaming
// assistant message. The first call inserts the row; subsequent calls with
// the same ID replace its content in place, so a turn always lands as exactly
// one row no matter how many times it is flushed.
func (s *Store) UpsertStreamingMessage(ctx context.Context, msg *domain.Message) error {
	toolCalls, err := marshalToolCalls(msg.ToolCalls)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content,
		    thinking = EXCLUDED.thinking,
		    tool_calls = EXCLUDED.tool_calls,
		    raw_input = EXCLUDED.raw_input,
		    raw_output = EXCLUDED.raw_output,
		    updated_at = EXCLUDED.updated_at`

	msg.UpdatedAt = time.Now().UTC()
	return s.withRetry(ctx, "upsert streaming message", func(ctx context.Context) error {
		_, err := s.conn(ctx).Exec(ctx, query,
			msg.ID, msg.FrameID, msg.AgentID, msg.Role, msg.Content, msg.Thinking,
			toolCalls, msg.ToolCallID, msg.Images, msg.RawInput, msg.RawOutput,
			msg.SpeakerName, msg.CreatedAt, msg.UpdatedAt)
		return err
	})
}

func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	msg, err := scanMessage(s.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// ListFrameMessages returns every message of a frame in chronological order.
func (s *Store) ListFrameMessages(ctx context.Context, frameID string) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE frame_id = $1
		ORDER BY created_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, frameID)
	if err != nil {
		return nil, fmt.Errorf("list frame messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// ListConversationMessages pages through a conversation's history. The page
// is selected newest-first so "the latest N" is cheap, then reversed so the
// caller always receives chronological order.
func (s *Store) ListConversationMessages(ctx context.Context, conversationID string, limit, offset int) ([]*domain.Message, error) {
	query := `
		SELECT ` + prefixedMessageColumns("m") + `
		FROM messages m
		JOIN frames f ON f.id = m.frame_id
		WHERE f.conversation_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversation messages: %w", err)
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteMessagesFrom removes a message and everything after it within the
// same conversation. Used when the client rewinds a conversation to retry.
func (s *Store) DeleteMessagesFrom(ctx context.Context, conversationID, messageID string) (int64, error) {
	query := `
		DELETE FROM messages
		WHERE frame_id IN (SELECT id FROM frames WHERE conversation_id = $1)
		  AND created_at >= (SELECT created_at FROM messages WHERE id = $2)`

	result, err := s.conn(ctx).Exec(ctx, query, conversationID, messageID)
	if err != nil {
		return 0, fmt.Errorf("delete messages from: %w", err)
	}
	if result.RowsAffected() == 0 {
		return 0, domain.ErrNotFound
	}
	return result.RowsAffected(), nil
}

// SearchMessages runs a regex search over one conversation's history,
// newest first. An optional date window narrows the scan.
func (s *Store) SearchMessages(ctx context.Context, conversationID, pattern string, caseSensitive bool, from, to *time.Time, limit int) ([]*domain.Message, error) {
	op := "~*"
	if caseSensitive {
		op = "~"
	}

	query := `
		SELECT ` + prefixedMessageColumns("m") + `
		FROM messages m
		JOIN frames f ON f.id = m.frame_id
		WHERE f.conversation_id = $1 AND m.content ` + op + ` $2
		  AND ($3::timestamptz IS NULL OR m.created_at >= $3)
		  AND ($4::timestamptz IS NULL OR m.created_at <= $4)
		ORDER BY m.created_at DESC
		LIMIT $5`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID, pattern, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// ConversationInfo summarizes a conversation's extent.
type ConversationInfo struct {
	MessageCount int
	FirstAt      *time.Time
	LastAt       *time.Time
}

func (s *Store) GetConversationInfo(ctx context.Context, conversationID string) (*ConversationInfo, error) {
	query := `
		SELECT COUNT(*), MIN(m.created_at), MAX(m.created_at)
		FROM messages m
		JOIN frames f ON f.id = m.frame_id
		WHERE f.conversation_id = $1`

	info := &ConversationInfo{}
	err := s.conn(ctx).QueryRow(ctx, query, conversationID).
		Scan(&info.MessageCount, &info.FirstAt, &info.LastAt)
	if err != nil {
		return nil, fmt.Errorf("get conversation info: %w", err)
	}
	return info, nil
}

func prefixedMessageColumns(alias string) string {
	return alias + ".id, " + alias + ".frame_id, " + alias + ".agent_id, " + alias + ".role, " +
		alias + ".content, " + alias + ".thinking, " + alias + ".tool_calls, " +
		alias + ".tool_call_id, " + alias + ".images, " +
		alias + ".raw_input, " + alias + ".raw_output, " + alias + ".speaker_name, " +
		alias + ".created_at, " + alias + ".updated_at"
}

func marshalToolCalls(calls []domain.ToolCall) ([]byte, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(calls)
	if err != nil {
		return nil, fmt.Errorf("marshal tool calls: %w", err)
	}
	return data, nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	msg := &domain.Message{}
	var toolCalls []byte
	err := row.Scan(
		&msg.ID, &msg.FrameID, &msg.AgentID, &msg.Role, &msg.Content, &msg.Thinking,
		&toolCalls, &msg.ToolCallID, &msg.Images, &msg.RawInput, &msg.RawOutput,
		&msg.SpeakerName, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(toolCalls) > 0 {
		if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal tool calls: %w", err)
		}
	}
	return msg, nil
}

func collectMessages(rows pgx.Rows) ([]*domain.Message, error) {
	var msgs []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

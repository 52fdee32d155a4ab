package store

import (
	"context"
	"fmt"

	"github.com/ariavoice/aria/internal/domain"
)

func (s *Store) CreateOrchestrationSession(ctx context.Context, session *domain.OrchestrationSession) error {
	query := `
		INSERT INTO orchestration_sessions (id, conversation_id, created_at)
		VALUES ($1, $2, $3)`

	_, err := s.conn(ctx).Exec(ctx, query,
		session.ID, session.ConversationID, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("create orchestration session: %w", err)
	}
	return nil
}

func (s *Store) AddOrchestrationHop(ctx context.Context, hop *domain.OrchestrationHop) error {
	query := `
		INSERT INTO orchestration_hops (id, session_id, seq, from_agent, to_agent, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.conn(ctx).Exec(ctx, query,
		hop.ID, hop.SessionID, hop.Seq, hop.FromAgent, hop.ToAgent, hop.Reason, hop.CreatedAt)
	if err != nil {
		return fmt.Errorf("add orchestration hop: %w", err)
	}
	return nil
}

func (s *Store) ListOrchestrationHops(ctx context.Context, sessionID string) ([]*domain.OrchestrationHop, error) {
	query := `
		SELECT id, session_id, seq, from_agent, to_agent, reason, created_at
		FROM orchestration_hops
		WHERE session_id = $1
		ORDER BY seq ASC`

	rows, err := s.conn(ctx).Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list orchestration hops: %w", err)
	}
	defer rows.Close()

	var hops []*domain.OrchestrationHop
	for rows.Next() {
		hop := &domain.OrchestrationHop{}
		if err := rows.Scan(&hop.ID, &hop.SessionID, &hop.Seq,
			&hop.FromAgent, &hop.ToAgent, &hop.Reason, &hop.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan orchestration hop: %w", err)
		}
		hops = append(hops, hop)
	}
	return hops, rows.Err()
}

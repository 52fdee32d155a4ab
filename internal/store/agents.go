package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/id"
)

const agentColumns = `id, user_id, name, system_prompt, model_name, voice_reference, avatar, excluded_tools, think_mode, memory, trigger_word, created_at, updated_at`

func (s *Store) CreateAgent(ctx context.Context, agent *domain.Agent) error {
	query := `
		INSERT INTO agents (` + agentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.conn(ctx).Exec(ctx, query,
		agent.ID, agent.UserID, agent.Name, agent.SystemPrompt, agent.ModelName,
		agent.VoiceReference, agent.Avatar, agent.ExcludedTools, agent.ThinkMode,
		agent.Memory, agent.TriggerWord, agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create agent %q: %w", agent.Name, domain.ErrConflict)
		}
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, id, userID string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1 AND user_id = $2`

	agent, err := scanAgent(s.conn(ctx).QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

func (s *Store) GetAgentByName(ctx context.Context, userID, name string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE user_id = $1 AND name = $2`

	agent, err := scanAgent(s.conn(ctx).QueryRow(ctx, query, userID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get agent by name: %w", err)
	}
	return agent, nil
}

func (s *Store) ListAgents(ctx context.Context, userID string) ([]*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE user_id = $1 ORDER BY created_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// UpdateAgent rewrites an agent's mutable fields. The Administrator agent
// may not be renamed, and its exclusion set may contain only routing tools.
func (s *Store) UpdateAgent(ctx context.Context, agent *domain.Agent) error {
	current, err := s.GetAgent(ctx, agent.ID, agent.UserID)
	if err != nil {
		return err
	}
	if current.IsAdministrator() {
		if agent.Name != domain.AdministratorAgentName {
			return fmt.Errorf("rename administrator agent: %w", domain.ErrConflict)
		}
		for _, name := range agent.ExcludedTools {
			if !domain.IsRoutingToolName(name) {
				return fmt.Errorf("exclude %q from administrator agent: %w", name, domain.ErrConflict)
			}
		}
	}

	query := `
		UPDATE agents
		SET name = $3, system_prompt = $4, model_name = $5, voice_reference = $6,
		    avatar = $7, excluded_tools = $8, think_mode = $9, trigger_word = $10,
		    updated_at = $11
		WHERE id = $1 AND user_id = $2`

	agent.UpdatedAt = time.Now().UTC()
	result, err := s.conn(ctx).Exec(ctx, query,
		agent.ID, agent.UserID, agent.Name, agent.SystemPrompt, agent.ModelName,
		agent.VoiceReference, agent.Avatar, agent.ExcludedTools, agent.ThinkMode,
		agent.TriggerWord, agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateAgentMemory stores the consolidated memory text for an agent.
func (s *Store) UpdateAgentMemory(ctx context.Context, agentID, memory string) error {
	query := `UPDATE agents SET memory = $2, updated_at = $3 WHERE id = $1`
	result, err := s.conn(ctx).Exec(ctx, query, agentID, memory, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update agent memory: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAgent(ctx context.Context, agentID, userID string) error {
	current, err := s.GetAgent(ctx, agentID, userID)
	if err != nil {
		return err
	}
	if current.IsAdministrator() {
		return fmt.Errorf("delete administrator agent: %w", domain.ErrConflict)
	}

	query := `DELETE FROM agents WHERE id = $1 AND user_id = $2`
	result, err := s.conn(ctx).Exec(ctx, query, agentID, userID)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// EnsureAdministrator creates the reserved routing agent for a user if it
// does not exist yet, and returns it.
func (s *Store) EnsureAdministrator(ctx context.Context, userID, modelName string) (*domain.Agent, error) {
	agent, err := s.GetAgentByName(ctx, userID, domain.AdministratorAgentName)
	if err == nil {
		return agent, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	admin := &domain.Agent{
		ID:        id.NewAgent(),
		UserID:    userID,
		Name:      domain.AdministratorAgentName,
		ModelName: modelName,
		SystemPrompt: "You coordinate a group of assistant agents. For every user message " +
			"you must call exactly one tool: route_to_agent to delegate to a named agent, " +
			"or route_to_user to answer directly.",
		ExcludedTools: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.CreateAgent(ctx, admin); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return s.GetAgentByName(ctx, userID, domain.AdministratorAgentName)
		}
		return nil, err
	}
	return admin, nil
}

func scanAgent(row pgx.Row) (*domain.Agent, error) {
	agent := &domain.Agent{}
	err := row.Scan(
		&agent.ID, &agent.UserID, &agent.Name, &agent.SystemPrompt, &agent.ModelName,
		&agent.VoiceReference, &agent.Avatar, &agent.ExcludedTools, &agent.ThinkMode,
		&agent.Memory, &agent.TriggerWord, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return agent, nil
}

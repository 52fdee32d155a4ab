package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariavoice/aria/internal/domain"
)

func (s *Store) CreateMCPServer(ctx context.Context, server *domain.MCPServer) error {
	env, err := json.Marshal(server.Env)
	if err != nil {
		return fmt.Errorf("marshal mcp env: %w", err)
	}

	query := `
		INSERT INTO mcp_servers (id, user_id, name, transport, url, command, args, env, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = s.conn(ctx).Exec(ctx, query,
		server.ID, server.UserID, server.Name, server.Transport, server.URL,
		server.Command, server.Args, env, server.Enabled, server.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create mcp server %q: %w", server.Name, domain.ErrConflict)
		}
		return fmt.Errorf("create mcp server: %w", err)
	}
	return nil
}

func (s *Store) GetMCPServer(ctx context.Context, id, userID string) (*domain.MCPServer, error) {
	query := `
		SELECT id, user_id, name, transport, url, command, args, env, enabled, created_at
		FROM mcp_servers
		WHERE id = $1 AND user_id = $2`

	server, err := scanMCPServer(s.conn(ctx).QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get mcp server: %w", err)
	}
	return server, nil
}

// ListEnabledMCPServers returns the servers the user's MCP orchestrator
// should hold connections to.
func (s *Store) ListEnabledMCPServers(ctx context.Context, userID string) ([]*domain.MCPServer, error) {
	query := `
		SELECT id, user_id, name, transport, url, command, args, env, enabled, created_at
		FROM mcp_servers
		WHERE user_id = $1 AND enabled = true
		ORDER BY name ASC`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list enabled mcp servers: %w", err)
	}
	defer rows.Close()

	var servers []*domain.MCPServer
	for rows.Next() {
		server, err := scanMCPServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mcp server: %w", err)
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

// CountMCPServers is the readiness probe's cheap table touch.
func (s *Store) CountMCPServers(ctx context.Context) (int, error) {
	var count int
	err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM mcp_servers`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count mcp servers: %w", err)
	}
	return count, nil
}

func (s *Store) SetMCPServerEnabled(ctx context.Context, id, userID string, enabled bool) error {
	query := `UPDATE mcp_servers SET enabled = $3 WHERE id = $1 AND user_id = $2`
	result, err := s.conn(ctx).Exec(ctx, query, id, userID, enabled)
	if err != nil {
		return fmt.Errorf("set mcp server enabled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMCPServer(ctx context.Context, id, userID string) error {
	query := `DELETE FROM mcp_servers WHERE id = $1 AND user_id = $2`
	result, err := s.conn(ctx).Exec(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("delete mcp server: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanMCPServer(row pgx.Row) (*domain.MCPServer, error) {
	server := &domain.MCPServer{}
	var env []byte
	err := row.Scan(
		&server.ID, &server.UserID, &server.Name, &server.Transport, &server.URL,
		&server.Command, &server.Args, &env, &server.Enabled, &server.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(env) > 0 {
		if err := json.Unmarshal(env, &server.Env); err != nil {
			return nil, fmt.Errorf("unmarshal mcp env: %w", err)
		}
	}
	return server, nil
}

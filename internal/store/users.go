package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariavoice/aria/internal/domain"
)

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, name, password_hash, system_prompt, preferred_name, default_model_url, summary_model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.conn(ctx).Exec(ctx, query,
		user.ID, user.Name, user.PasswordHash, user.SystemPrompt,
		user.PreferredName, user.DefaultModel, user.SummaryModel, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create user %q: %w", user.Name, domain.ErrConflict)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := `
		SELECT id, name, password_hash, system_prompt, preferred_name, default_model_url, summary_model, created_at
		FROM users
		WHERE id = $1 AND deleted_at IS NULL`

	user := &domain.User{}
	err := s.conn(ctx).QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Name, &user.PasswordHash, &user.SystemPrompt,
		&user.PreferredName, &user.DefaultModel, &user.SummaryModel, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUserByName(ctx context.Context, name string) (*domain.User, error) {
	query := `
		SELECT id, name, password_hash, system_prompt, preferred_name, default_model_url, summary_model, created_at
		FROM users
		WHERE name = $1 AND deleted_at IS NULL`

	user := &domain.User{}
	err := s.conn(ctx).QueryRow(ctx, query, name).Scan(
		&user.ID, &user.Name, &user.PasswordHash, &user.SystemPrompt,
		&user.PreferredName, &user.DefaultModel, &user.SummaryModel, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get user by name: %w", err)
	}
	return user, nil
}

func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET system_prompt = $2, preferred_name = $3, default_model_url = $4, summary_model = $5
		WHERE id = $1 AND deleted_at IS NULL`

	result, err := s.conn(ctx).Exec(ctx, query,
		user.ID, user.SystemPrompt, user.PreferredName, user.DefaultModel, user.SummaryModel)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	query := `UPDATE users SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	result, err := s.conn(ctx).Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

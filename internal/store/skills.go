package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariavoice/aria/internal/domain"
)

func (s *Store) CreateSkill(ctx context.Context, skill *domain.Skill) error {
	query := `
		INSERT INTO skills (id, user_id, name, instructions, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.conn(ctx).Exec(ctx, query,
		skill.ID, skill.UserID, skill.Name, skill.Instructions, skill.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create skill %q: %w", skill.Name, domain.ErrConflict)
		}
		return fmt.Errorf("create skill: %w", err)
	}
	return nil
}

func (s *Store) GetSkillByName(ctx context.Context, userID, name string) (*domain.Skill, error) {
	query := `
		SELECT id, user_id, name, instructions, created_at
		FROM skills
		WHERE user_id = $1 AND name = $2`

	skill := &domain.Skill{}
	err := s.conn(ctx).QueryRow(ctx, query, userID, name).Scan(
		&skill.ID, &skill.UserID, &skill.Name, &skill.Instructions, &skill.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get skill by name: %w", err)
	}
	return skill, nil
}

func (s *Store) ListSkills(ctx context.Context, userID string) ([]*domain.Skill, error) {
	query := `
		SELECT id, user_id, name, instructions, created_at
		FROM skills
		WHERE user_id = $1
		ORDER BY name ASC`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var skills []*domain.Skill
	for rows.Next() {
		skill := &domain.Skill{}
		if err := rows.Scan(&skill.ID, &skill.UserID, &skill.Name,
			&skill.Instructions, &skill.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		skills = append(skills, skill)
	}
	return skills, rows.Err()
}

func (s *Store) DeleteSkill(ctx context.Context, skillID, userID string) error {
	query := `DELETE FROM skills WHERE id = $1 AND user_id = $2`
	result, err := s.conn(ctx).Exec(ctx, query, skillID, userID)
	if err != nil {
		return fmt.Errorf("delete skill: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

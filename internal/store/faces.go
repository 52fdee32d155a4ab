package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ariavoice/aria/internal/domain"
)

func (s *Store) CreateFaceIdentity(ctx context.Context, identity *domain.FaceIdentity) error {
	query := `
		INSERT INTO face_identities (id, user_id, name, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.conn(ctx).Exec(ctx, query,
		identity.ID, identity.UserID, identity.Name, identity.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create face identity %q: %w", identity.Name, domain.ErrConflict)
		}
		return fmt.Errorf("create face identity: %w", err)
	}
	return nil
}

func (s *Store) ListFaceIdentities(ctx context.Context, userID string) ([]*domain.FaceIdentity, error) {
	query := `
		SELECT id, user_id, name, created_at
		FROM face_identities
		WHERE user_id = $1
		ORDER BY name ASC`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list face identities: %w", err)
	}
	defer rows.Close()

	var identities []*domain.FaceIdentity
	for rows.Next() {
		identity := &domain.FaceIdentity{}
		if err := rows.Scan(&identity.ID, &identity.UserID, &identity.Name, &identity.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan face identity: %w", err)
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

func (s *Store) AddFacePhoto(ctx context.Context, photo *domain.FacePhoto) error {
	if len(photo.Embedding) != domain.EmbeddingDim {
		return fmt.Errorf("embedding has %d dimensions, want %d: %w",
			len(photo.Embedding), domain.EmbeddingDim, domain.ErrConflict)
	}

	query := `
		INSERT INTO face_photos (id, identity_id, embedding, photo_uuid, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.conn(ctx).Exec(ctx, query,
		photo.ID, photo.IdentityID, pgvector.NewVector(photo.Embedding),
		photo.PhotoUUID, photo.CreatedAt)
	if err != nil {
		return fmt.Errorf("add face photo: %w", err)
	}
	return nil
}

// KnownEmbedding pairs a stored embedding with its identity name for the
// in-memory matching cache.
type KnownEmbedding struct {
	IdentityID string
	Name       string
	Embedding  []float32
}

// ListEmbeddings loads every embedding the user has registered. The vision
// pipeline snapshots the result and matches against it in memory.
func (s *Store) ListEmbeddings(ctx context.Context, userID string) ([]KnownEmbedding, error) {
	query := `
		SELECT i.id, i.name, p.embedding
		FROM face_photos p
		JOIN face_identities i ON i.id = p.identity_id
		WHERE i.user_id = $1`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	var known []KnownEmbedding
	for rows.Next() {
		var k KnownEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&k.IdentityID, &k.Name, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		k.Embedding = vec.Slice()
		known = append(known, k)
	}
	return known, rows.Err()
}

// NearestIdentity finds the closest registered face by cosine distance.
// Returns ErrNotFound when the user has no embeddings at all.
func (s *Store) NearestIdentity(ctx context.Context, userID string, embedding []float32) (name string, similarity float64, err error) {
	query := `
		SELECT i.name, 1 - (p.embedding <=> $2) AS similarity
		FROM face_photos p
		JOIN face_identities i ON i.id = p.identity_id
		WHERE i.user_id = $1
		ORDER BY p.embedding <=> $2
		LIMIT 1`

	err = s.conn(ctx).QueryRow(ctx, query, userID, pgvector.NewVector(embedding)).
		Scan(&name, &similarity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, domain.ErrNotFound
		}
		return "", 0, fmt.Errorf("nearest identity: %w", err)
	}
	return name, similarity, nil
}

func (s *Store) DeleteFaceIdentity(ctx context.Context, identityID, userID string) error {
	query := `DELETE FROM face_identities WHERE id = $1 AND user_id = $2`
	result, err := s.conn(ctx).Exec(ctx, query, identityID, userID)
	if err != nil {
		return fmt.Errorf("delete face identity: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

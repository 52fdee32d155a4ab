package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/id"
	"github.com/ariavoice/aria/internal/store"
)

// SeedUserName is the account created on first boot.
const SeedUserName = "admin"

// SeedAdmin creates the admin account and its Administrator agent if no such
// user exists yet. With an empty password a random one is generated and
// logged once; it can be rotated afterwards through create-user tooling.
func SeedAdmin(ctx context.Context, st *store.Store, defaultModel, password string) error {
	_, err := st.GetUserByName(ctx, SeedUserName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("seed admin lookup: %w", err)
	}

	generated := false
	if password == "" {
		password, err = nanoid.New(16)
		if err != nil {
			return fmt.Errorf("generate admin password: %w", err)
		}
		generated = true
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	user := &domain.User{
		ID:           id.NewUser(),
		Name:         SeedUserName,
		PasswordHash: string(hash),
		DefaultModel: defaultModel,
		CreatedAt:    time.Now().UTC(),
	}
	if err := st.CreateUser(ctx, user); err != nil {
		// Another instance seeded between the lookup and the insert.
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return fmt.Errorf("seed admin user: %w", err)
	}
	if _, err := st.EnsureAdministrator(ctx, user.ID, defaultModel); err != nil {
		return fmt.Errorf("seed administrator agent: %w", err)
	}

	if generated {
		slog.Warn("seed: admin account created with generated password",
			"user_id", user.ID, "password", password)
	} else {
		slog.Info("seed: admin account created", "user_id", user.ID)
	}
	return nil
}

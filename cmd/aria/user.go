package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/id"
	"github.com/ariavoice/aria/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := store.Connect(ctx, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := store.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func createUserCmd() *cobra.Command {
	var name, password, preferredName, model string

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || password == "" {
				return fmt.Errorf("--name and --password are required")
			}

			ctx := cmd.Context()
			pool, err := store.Connect(ctx, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer pool.Close()
			st := store.New(pool)

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}

			user := &domain.User{
				ID:            id.NewUser(),
				Name:          name,
				PasswordHash:  string(hash),
				PreferredName: preferredName,
				DefaultModel:  model,
				CreatedAt:     time.Now().UTC(),
			}
			if err := st.CreateUser(ctx, user); err != nil {
				return err
			}

			if _, err := st.EnsureAdministrator(ctx, user.ID, model); err != nil {
				return fmt.Errorf("create administrator agent: %w", err)
			}

			fmt.Printf("user %s created (%s)\n", name, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "login name")
	cmd.Flags().StringVar(&password, "password", "", "login password")
	cmd.Flags().StringVar(&preferredName, "preferred-name", "", "name agents address the user by")
	cmd.Flags().StringVar(&model, "model", "", "default LLM model")
	return cmd
}

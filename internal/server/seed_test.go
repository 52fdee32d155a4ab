package server

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariavoice/aria/internal/store"
)

// anyArgs builds a matcher list for statements whose values are not the
// point of the test.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestSeedAdminCreatesUserAndAdministrator(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectQuery("FROM users").
		WithArgs(SeedUserName).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO users").
		WithArgs(anyArgs(8)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FROM agents").
		WithArgs(pgxmock.AnyArg(), "Administrator").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO agents").
		WithArgs(anyArgs(13)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = SeedAdmin(context.Background(), store.New(mock), "qwen3", "hunter2")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedAdminSkipsExistingAccount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectQuery("FROM users").
		WithArgs(SeedUserName).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "password_hash", "system_prompt", "preferred_name",
			"default_model_url", "summary_model", "created_at",
		}).AddRow("usr_1", SeedUserName, "hash", "", "", "qwen3", nil, time.Now()))

	err = SeedAdmin(context.Background(), store.New(mock), "qwen3", "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conversationRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"})
}

func TestListConversationsPagesByActivity(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("usr_1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("FROM conversations c").
		WithArgs("usr_1", 10, 0).
		WillReturnRows(conversationRows().
			AddRow("conv_2", "usr_1", "Newer", now, now).
			AddRow("conv_1", "usr_1", "Older", now.Add(-time.Hour), now.Add(-time.Hour)))

	convs, total, err := s.ListConversations(ctx, "usr_1", "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, convs, 2)
	assert.Equal(t, "conv_2", convs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListConversationsFiltersByAgent(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// The agent filter is an extra bind parameter on both queries; limit=1
	// yields the agent's latest conversation.
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("usr_1", "agt_scout").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("FROM conversations c").
		WithArgs("usr_1", "agt_scout", 1, 0).
		WillReturnRows(conversationRows().
			AddRow("conv_9", "usr_1", "Research", now, now))

	convs, total, err := s.ListConversations(ctx, "usr_1", "agt_scout", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, convs, 1)
	assert.Equal(t, "conv_9", convs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

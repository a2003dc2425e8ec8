package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (*ConversationStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return NewConversationStore(db, zap.NewNop()), mock
}

func TestTurns_OrderedByCreation(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "conversation_id", "role", "content", "created_at"}).
		AddRow("m1", "c1", "user", "first question", now.Add(-2*time.Minute)).
		AddRow("m2", "c1", "assistant", "first answer", now.Add(-time.Minute)).
		AddRow("m3", "c1", "user", "follow-up", now)

	mock.ExpectQuery(`SELECT \* FROM "conversation_messages" WHERE conversation_id = \$1 ORDER BY created_at ASC`).
		WithArgs("c1").
		WillReturnRows(rows)

	turns, err := store.Turns(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "first question", turns[0].Content)
	assert.Equal(t, "follow-up", turns[2].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTurns_EmptyConversation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "conversation_messages"`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "role", "content", "created_at"}))

	turns, err := store.Turns(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestTurns_QueryErrorWrapped(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "conversation_messages"`).
		WithArgs("c1").
		WillReturnError(assert.AnError)

	_, err := store.Turns(context.Background(), "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading conversation turns")
}

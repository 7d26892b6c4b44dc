package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"kbring/internal/model"
)

// newTestDB opens an in-memory database pinned to a single connection so
// every query sees the migrated schema.
func newTestDB(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models...))
	return db
}

func TestCreateWithCitationsAssignsMessageID(t *testing.T) {
	db := newTestDB(t, &model.Message{}, &model.Citation{})
	repo := NewMessageRepository(db)

	message := &model.Message{SessionID: 1, UserID: 1, Role: "assistant", Content: "answer"}
	citations := []model.Citation{
		{ChunkID: 11, Score: 0.4},
		{ChunkID: 12, Score: 0.8},
	}
	require.NoError(t, repo.CreateWithCitations(message, citations))
	require.NotZero(t, message.ID)

	got, err := repo.ListCitationsForMessage(1, message.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, c := range got {
		assert.Equal(t, message.ID, c.MessageID)
	}
	assert.Equal(t, uint(12), got[0].ChunkID, "citations ordered by score descending")
	assert.Equal(t, uint(11), got[1].ChunkID)
}

func TestListCitationsForMessageScopedToSession(t *testing.T) {
	db := newTestDB(t, &model.Message{}, &model.Citation{})
	repo := NewMessageRepository(db)

	mine := &model.Message{SessionID: 1, UserID: 1, Role: "assistant", Content: "mine"}
	require.NoError(t, repo.CreateWithCitations(mine, []model.Citation{{ChunkID: 10, Score: 0.9}}))

	other := &model.Message{SessionID: 2, UserID: 2, Role: "assistant", Content: "not mine"}
	require.NoError(t, repo.CreateWithCitations(other, []model.Citation{{ChunkID: 99, Score: 0.7}}))

	// A session the caller owns plus a foreign message id yields nothing.
	got, err := repo.ListCitationsForMessage(1, other.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = repo.ListCitationsForMessage(2, other.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint(99), got[0].ChunkID)
}

func TestListRecentBySessionIDChronological(t *testing.T) {
	db := newTestDB(t, &model.Message{}, &model.Citation{})
	repo := NewMessageRepository(db)

	for _, content := range []string{"first", "second", "third"} {
		require.NoError(t, repo.Create(&model.Message{SessionID: 5, UserID: 1, Role: "user", Content: content}))
	}

	recent, err := repo.ListRecentBySessionID(5, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].Content)
	assert.Equal(t, "third", recent[1].Content)
}

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edufund/supportchat/backend/internal/storage"
	"github.com/edufund/supportchat/backend/internal/storage/storagetest"
)

func open(t *testing.T) *Sqlite {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Migrate()
	require.NoError(t, err)
	return db
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return open(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := open(t)

	version, err := db.Migrate()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	require.NoError(t, db.Ping(context.Background()))
}

func TestPairConstraint(t *testing.T) {
	db := open(t)

	_, err := db.Db.Exec(`INSERT INTO conversations (id, participant_low, participant_high, created_at) VALUES ('c1', 'b', 'a', 0)`)
	assert.Error(t, err, "participants must be stored in canonical order")

	_, err = db.Db.Exec(`INSERT INTO messages (id, conversation_id, sender_id, receiver_id, body, status, created_at) VALUES ('m1', 'missing', 'a', 'b', 'hi', 'sent', 0)`)
	assert.Error(t, err, "messages reference an existing conversation")
}

package conversations

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edufund/supportchat/backend/internal/apperr"
	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/storage"
	"github.com/edufund/supportchat/backend/internal/storage/memory"
)

var (
	userA = auth.Identity{ID: "user-a", Email: "a@example.com"}
	admin = auth.Identity{ID: "admin-m", Email: "support@edufund.test", IsAdmin: true}
	userX = auth.Identity{ID: "user-x", Email: "x@example.com"}
)

func TestGetOrCreateIsSymmetricAndUnique(t *testing.T) {
	d := NewDirectory(memory.New())
	ctx := context.Background()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]bool{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := userA.ID, admin.ID
			if i%2 == 0 {
				a, b = b, a
			}
			c, err := d.GetOrCreate(ctx, a, b)
			if assert.NoError(t, err) {
				mu.Lock()
				ids[c.ID] = true
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, ids, 1)
}

func TestGetOrCreateRejectsBadPairs(t *testing.T) {
	d := NewDirectory(memory.New())
	for _, pair := range [][2]string{{"u", "u"}, {"", "u"}, {"u", " "}} {
		_, err := d.GetOrCreate(context.Background(), pair[0], pair[1])
		assert.ErrorIs(t, err, apperr.ErrInvalidParticipants)
		assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	}
}

func TestAuthorize(t *testing.T) {
	d := NewDirectory(memory.New())
	ctx := context.Background()
	c, err := d.GetOrCreate(ctx, userA.ID, admin.ID)
	require.NoError(t, err)

	got, err := d.Authorize(ctx, userA, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.True(t, d.CanAccess(ctx, admin, c.ID))

	_, err = d.Authorize(ctx, userX, c.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.False(t, d.CanAccess(ctx, userX, c.ID))

	_, err = d.Authorize(ctx, userA, uuid.NewString())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListForAndSummaries(t *testing.T) {
	store := memory.New()
	d := NewDirectory(store)
	ctx := context.Background()

	withA, err := d.GetOrCreate(ctx, userA.ID, admin.ID)
	require.NoError(t, err)
	withX, err := d.GetOrCreate(ctx, userX.ID, admin.ID)
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, text := range []string{"hi", "anyone?"} {
		_, err := store.Messages().Insert(ctx, storage.Message{
			ID: uuid.NewString(), ConversationID: withA.ID, SenderID: userA.ID, ReceiverID: admin.ID,
			Text: text, Status: storage.StatusSent, CreatedAt: at.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	mine, err := d.ListFor(ctx, userA)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, withA.ID, mine[0].ID)

	sums, err := d.Summaries(ctx, admin)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, withA.ID, sums[0].ID, "conversations with recent messages first")
	assert.Equal(t, 2, sums[0].UnreadCount)
	require.NotNil(t, sums[0].LastMessage)
	assert.Equal(t, "anyone?", sums[0].LastMessage.Text)
	assert.False(t, sums[0].LastMessageIsFromMe)

	assert.Equal(t, withX.ID, sums[1].ID)
	assert.Nil(t, sums[1].LastMessage)

	sums, err = d.Summaries(ctx, userA)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Zero(t, sums[0].UnreadCount)
	assert.True(t, sums[0].LastMessageIsFromMe)
}

// Package storagetest is a behavioural suite every storage.Store implementation runs.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edufund/supportchat/backend/internal/apperr"
	"github.com/edufund/supportchat/backend/internal/storage"
)

// Run executes the suite; newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("GetOrCreateConverges", func(t *testing.T) { testGetOrCreateConverges(t, newStore(t)) })
	t.Run("ConversationLookups", func(t *testing.T) { testConversationLookups(t, newStore(t)) })
	t.Run("InsertAdvancesLastMessageAt", func(t *testing.T) { testInsertAdvancesLastMessageAt(t, newStore(t)) })
	t.Run("ListOrderAndSoftDelete", func(t *testing.T) { testListOrderAndSoftDelete(t, newStore(t)) })
	t.Run("StatusOnlyMovesForward", func(t *testing.T) { testStatusOnlyMovesForward(t, newStore(t)) })
	t.Run("MarkDeliveredTargetsReceiver", func(t *testing.T) { testMarkDeliveredTargetsReceiver(t, newStore(t)) })
	t.Run("Counters", func(t *testing.T) { testCounters(t, newStore(t)) })
	t.Run("Digests", func(t *testing.T) { testDigests(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
}

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func conversation(t *testing.T, s storage.Store, a, b string) storage.Conversation {
	t.Helper()
	low, high := storage.PairKey(a, b)
	c, err := s.Conversations().GetOrCreate(context.Background(), uuid.NewString(), low, high, base)
	require.NoError(t, err)
	return c
}

func insert(t *testing.T, s storage.Store, c storage.Conversation, from, to, text string, at time.Time) storage.Message {
	t.Helper()
	m, err := s.Messages().Insert(context.Background(), storage.Message{
		ID:             uuid.NewString(),
		ConversationID: c.ID,
		SenderID:       from,
		ReceiverID:     to,
		Text:           text,
		Status:         storage.StatusSent,
		CreatedAt:      at,
	})
	require.NoError(t, err)
	return m
}

func testGetOrCreateConverges(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const workers = 16

	ids := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "user-a", "admin-m"
			if i%2 == 1 {
				a, b = b, a
			}
			low, high := storage.PairKey(a, b)
			c, err := s.Conversations().GetOrCreate(ctx, uuid.NewString(), low, high, base)
			if !assert.NoError(t, err) {
				return
			}
			ids <- c.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	var first string
	for id := range ids {
		if first == "" {
			first = id
		}
		assert.Equal(t, first, id)
	}
	n, err := s.Conversations().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testConversationLookups(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c1 := conversation(t, s, "a", "m")
	c2 := conversation(t, s, "b", "m")

	got, err := s.Conversations().Get(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.ParticipantA)
	assert.Equal(t, "m", got.ParticipantB)
	assert.Nil(t, got.LastMessageAt)

	_, err = s.Conversations().Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	mine, err := s.Conversations().ListByParticipant(ctx, "a")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, c1.ID, mine[0].ID)

	insert(t, s, c2, "b", "m", "hi", base.Add(time.Minute))
	all, err := s.Conversations().ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, c2.ID, all[0].ID, "conversation with activity sorts first")
}

func testInsertAdvancesLastMessageAt(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := conversation(t, s, "a", "m")

	later := base.Add(2 * time.Minute)
	insert(t, s, c, "a", "m", "second", later)
	insert(t, s, c, "m", "a", "late arrival", base.Add(time.Minute))

	got, err := s.Conversations().Get(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageAt)
	assert.True(t, got.LastMessageAt.Equal(later), "last message time never moves backwards")

	_, err = s.Messages().Insert(ctx, storage.Message{
		ID: uuid.NewString(), ConversationID: uuid.NewString(), SenderID: "a", ReceiverID: "m",
		Text: "x", Status: storage.StatusSent, CreatedAt: base,
	})
	assert.Error(t, err)
}

func testListOrderAndSoftDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := conversation(t, s, "a", "m")

	m1 := insert(t, s, c, "a", "m", "one", base)
	m2 := insert(t, s, c, "m", "a", "two", base)
	m3 := insert(t, s, c, "a", "m", "three", base.Add(time.Second))

	list, err := s.Messages().List(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{m1.ID, m2.ID, m3.ID}, []string{list[0].ID, list[1].ID, list[2].ID})

	_, _, err = s.Messages().SoftDelete(ctx, m2.ID, "a", base.Add(time.Hour))
	assert.ErrorIs(t, err, apperr.ErrNotFound, "only the sender can delete")

	deleted, changed, err := s.Messages().SoftDelete(ctx, m2.ID, "m", base.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, deleted.Deleted())

	_, changed, err = s.Messages().SoftDelete(ctx, m2.ID, "m", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	list, err = s.Messages().List(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	digests, err := s.Messages().Digests(ctx, "a", []string{c.ID})
	require.NoError(t, err)
	assert.Equal(t, m3.ID, digests[c.ID].Last.ID)

	got, err := s.Messages().Get(ctx, m2.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted())
}

func testStatusOnlyMovesForward(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := conversation(t, s, "a", "m")
	m := insert(t, s, c, "a", "m", "hello", base)

	_, _, err := s.Messages().Advance(ctx, m.ID, "a", storage.StatusRead)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "sender cannot advance")

	read, changed, err := s.Messages().Advance(ctx, m.ID, "m", storage.StatusRead)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, storage.StatusRead, read.Status)

	again, changed, err := s.Messages().Advance(ctx, m.ID, "m", storage.StatusDelivered)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, storage.StatusRead, again.Status)

	_, changed, err = s.Messages().Advance(ctx, m.ID, "m", storage.StatusRead)
	require.NoError(t, err)
	assert.False(t, changed)
}

func testMarkDeliveredTargetsReceiver(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := conversation(t, s, "a", "m")
	toM1 := insert(t, s, c, "a", "m", "one", base)
	toM2 := insert(t, s, c, "a", "m", "two", base.Add(time.Second))
	toA := insert(t, s, c, "m", "a", "reply", base.Add(2*time.Second))
	_, _, err := s.Messages().Advance(ctx, toM2.ID, "m", storage.StatusRead)
	require.NoError(t, err)

	changed, err := s.Messages().MarkDelivered(ctx, c.ID, "m")
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, toM1.ID, changed[0].ID)
	assert.Equal(t, storage.StatusDelivered, changed[0].Status)

	changed, err = s.Messages().MarkDelivered(ctx, c.ID, "m")
	require.NoError(t, err)
	assert.Empty(t, changed)

	got, err := s.Messages().Get(ctx, toA.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSent, got.Status)
	got, err = s.Messages().Get(ctx, toM2.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusRead, got.Status)
}

func testCounters(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := conversation(t, s, "a", "m")
	insert(t, s, c, "a", "m", "one", base)
	m2 := insert(t, s, c, "a", "m", "two", base.Add(time.Second))
	insert(t, s, c, "m", "a", "three", base.Add(2*time.Second))
	_, _, err := s.Messages().Advance(ctx, m2.ID, "m", storage.StatusRead)
	require.NoError(t, err)

	total, unread, err := s.Messages().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, unread)
}

func testDigests(t *testing.T, s storage.Store) {
	ctx := context.Background()
	busy := conversation(t, s, "a", "m")
	other := conversation(t, s, "b", "m")
	empty := conversation(t, s, "c", "m")

	insert(t, s, busy, "a", "m", "one", base)
	read := insert(t, s, busy, "a", "m", "two", base.Add(time.Second))
	insert(t, s, busy, "a", "m", "three", base.Add(2*time.Second))
	reply := insert(t, s, busy, "m", "a", "reply", base.Add(2*time.Second))
	gone := insert(t, s, busy, "a", "m", "oops", base.Add(3*time.Second))
	fromB := insert(t, s, other, "b", "m", "hi", base)

	_, _, err := s.Messages().Advance(ctx, read.ID, "m", storage.StatusRead)
	require.NoError(t, err)
	_, _, err = s.Messages().SoftDelete(ctx, gone.ID, "a", base.Add(time.Hour))
	require.NoError(t, err)

	got, err := s.Messages().Digests(ctx, "m", []string{busy.ID, other.ID, empty.ID, uuid.NewString()})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 2, got[busy.ID].Unread)
	assert.Equal(t, reply.ID, got[busy.ID].Last.ID, "same timestamp breaks ties by commit order")
	assert.Equal(t, 1, got[other.ID].Unread)
	assert.Equal(t, fromB.ID, got[other.ID].Last.ID)

	got, err = s.Messages().Digests(ctx, "a", []string{busy.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, got[busy.ID].Unread)

	got, err = s.Messages().Digests(ctx, "a", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.Users().Upsert(ctx, storage.User{ID: "u1", Email: "First@Example.com", CreatedAt: base, LastSeenAt: base})
	require.NoError(t, err)
	_, err = s.Users().Upsert(ctx, storage.User{ID: "u2", Email: "second@example.com", CreatedAt: base.Add(time.Hour), LastSeenAt: base})
	require.NoError(t, err)

	u, err := s.Users().Upsert(ctx, storage.User{ID: "u1", Email: "first@example.com", CreatedAt: base.Add(5 * time.Hour), LastSeenAt: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, u.CreatedAt.Equal(base), "created_at survives re-sync")
	assert.True(t, u.LastSeenAt.Equal(base.Add(time.Hour)))

	found, err := s.Users().FindByEmail(ctx, "FIRST@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", found.ID)

	_, err = s.Users().Get(ctx, "nobody")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	list, err := s.Users().List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "u2", list[0].ID, "newest first")
}

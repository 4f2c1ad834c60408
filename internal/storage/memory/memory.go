// Package memory is an in-process storage.Store for tests and local development.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/edufund/supportchat/backend/internal/apperr"
	"github.com/edufund/supportchat/backend/internal/storage"
)

type Store struct {
	mu sync.RWMutex

	conversations map[string]*storage.Conversation
	pairs         map[[2]string]string // canonical pair -> conversation id
	messages      map[string]*storage.Message
	byConv        map[string][]string // conversation id -> message ids in commit order
	users         map[string]*storage.User
	seq           int64
}

func New() *Store {
	return &Store{
		conversations: make(map[string]*storage.Conversation),
		pairs:         make(map[[2]string]string),
		messages:      make(map[string]*storage.Message),
		byConv:        make(map[string][]string),
		users:         make(map[string]*storage.User),
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) Conversations() storage.ConversationRepo { return conversationRepo{s} }
func (s *Store) Messages() storage.MessageRepo           { return messageRepo{s} }
func (s *Store) Users() storage.UserRepo                 { return userRepo{s} }
func (s *Store) Ping(context.Context) error              { return nil }
func (s *Store) Close() error                            { return nil }

type conversationRepo struct{ s *Store }

func (r conversationRepo) GetOrCreate(_ context.Context, id, low, high string, now time.Time) (storage.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := [2]string{low, high}
	if existing, ok := r.s.pairs[key]; ok {
		return *r.s.conversations[existing], nil
	}
	c := &storage.Conversation{ID: id, ParticipantA: low, ParticipantB: high, CreatedAt: now}
	r.s.conversations[id] = c
	r.s.pairs[key] = id
	return *c, nil
}

func (r conversationRepo) Get(_ context.Context, id string) (storage.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return storage.Conversation{}, fmt.Errorf("conversation %s: %w", id, apperr.ErrNotFound)
	}
	return *c, nil
}

func (r conversationRepo) ListByParticipant(_ context.Context, userID string) ([]storage.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []storage.Conversation
	for _, c := range r.s.conversations {
		if c.Has(userID) {
			out = append(out, *c)
		}
	}
	sortConversations(out)
	return out, nil
}

func (r conversationRepo) ListAll(_ context.Context) ([]storage.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]storage.Conversation, 0, len(r.s.conversations))
	for _, c := range r.s.conversations {
		out = append(out, *c)
	}
	sortConversations(out)
	return out, nil
}

func (r conversationRepo) Count(_ context.Context) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.conversations), nil
}

// most recent activity first, conversations without messages last
func sortConversations(list []storage.Conversation) {
	slices.SortFunc(list, func(a, b storage.Conversation) int {
		switch {
		case a.LastMessageAt != nil && b.LastMessageAt == nil:
			return -1
		case a.LastMessageAt == nil && b.LastMessageAt != nil:
			return 1
		case a.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt):
			return b.LastMessageAt.Compare(*a.LastMessageAt)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

type messageRepo struct{ s *Store }

func (r messageRepo) Insert(_ context.Context, m storage.Message) (storage.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.conversations[m.ConversationID]
	if !ok {
		return storage.Message{}, fmt.Errorf("conversation %s: %w", m.ConversationID, apperr.ErrNotFound)
	}
	r.s.seq++
	m.Seq = r.s.seq
	stored := m
	r.s.messages[m.ID] = &stored
	r.s.byConv[m.ConversationID] = append(r.s.byConv[m.ConversationID], m.ID)

	if c.LastMessageAt == nil || c.LastMessageAt.Before(m.CreatedAt) {
		at := m.CreatedAt
		c.LastMessageAt = &at
	}
	return m, nil
}

func (r messageRepo) Get(_ context.Context, id string) (storage.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.messages[id]
	if !ok {
		return storage.Message{}, fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	return *m, nil
}

func (r messageRepo) List(_ context.Context, conversationID string) ([]storage.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []storage.Message
	for _, id := range r.s.byConv[conversationID] {
		if m := r.s.messages[id]; !m.Deleted() {
			out = append(out, *m)
		}
	}
	slices.SortStableFunc(out, func(a, b storage.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return int(a.Seq - b.Seq)
	})
	return out, nil
}

func (r messageRepo) MarkDelivered(_ context.Context, conversationID, receiverID string) ([]storage.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var changed []storage.Message
	for _, id := range r.s.byConv[conversationID] {
		m := r.s.messages[id]
		if m.ReceiverID == receiverID && m.Status == storage.StatusSent && !m.Deleted() {
			m.Status = storage.StatusDelivered
			changed = append(changed, *m)
		}
	}
	return changed, nil
}

func (r messageRepo) Advance(_ context.Context, id, receiverID string, to storage.Status) (storage.Message, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok || m.Deleted() || m.ReceiverID != receiverID {
		return storage.Message{}, false, fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	if m.Status.Rank() >= to.Rank() {
		return *m, false, nil
	}
	m.Status = to
	return *m, true, nil
}

func (r messageRepo) SoftDelete(_ context.Context, id, senderID string, at time.Time) (storage.Message, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok || m.SenderID != senderID {
		return storage.Message{}, false, fmt.Errorf("message %s: %w", id, apperr.ErrNotFound)
	}
	if m.Deleted() {
		return *m, false, nil
	}
	m.DeletedAt = &at
	return *m, true, nil
}

func (r messageRepo) Digests(_ context.Context, viewerID string, conversationIDs []string) (map[string]storage.Digest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string]storage.Digest, len(conversationIDs))
	for _, cid := range conversationIDs {
		var (
			d    storage.Digest
			last *storage.Message
		)
		for _, id := range r.s.byConv[cid] {
			m := r.s.messages[id]
			if m.Deleted() {
				continue
			}
			if m.ReceiverID == viewerID && m.Status != storage.StatusRead {
				d.Unread++
			}
			if last == nil || later(*m, *last) {
				last = m
			}
		}
		if last != nil {
			d.Last = *last
			out[cid] = d
		}
	}
	return out, nil
}

func later(a, b storage.Message) bool {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c > 0
	}
	return a.Seq > b.Seq
}

func (r messageRepo) Count(_ context.Context) (int, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	total, unread := 0, 0
	for _, m := range r.s.messages {
		if m.Deleted() {
			continue
		}
		total++
		if m.Status != storage.StatusRead {
			unread++
		}
	}
	return total, unread, nil
}

type userRepo struct{ s *Store }

func (r userRepo) Upsert(_ context.Context, u storage.User) (storage.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.users[u.ID]; ok {
		existing.Email = u.Email
		existing.LastSeenAt = u.LastSeenAt
		return *existing, nil
	}
	stored := u
	r.s.users[u.ID] = &stored
	return u, nil
}

func (r userRepo) Get(_ context.Context, id string) (storage.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return storage.User{}, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	return *u, nil
}

func (r userRepo) FindByEmail(_ context.Context, email string) (storage.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return *u, nil
		}
	}
	return storage.User{}, fmt.Errorf("user %s: %w", email, apperr.ErrNotFound)
}

func (r userRepo) List(_ context.Context) ([]storage.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]storage.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		out = append(out, *u)
	}
	slices.SortFunc(out, func(a, b storage.User) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

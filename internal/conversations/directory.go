// Package conversations owns the set of two-party conversations and the
// access gate every other component asks before touching one.
package conversations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edufund/supportchat/backend/internal/apperr"
	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/storage"
)

type Directory struct {
	convs storage.ConversationRepo
	msgs  storage.MessageRepo
	now   func() time.Time
}

func NewDirectory(store storage.Store) *Directory {
	return &Directory{
		convs: store.Conversations(),
		msgs:  store.Messages(),
		now:   time.Now,
	}
}

// GetOrCreate returns the conversation between a and b, creating it on first
// use. The argument order does not matter and concurrent callers converge on
// one conversation.
func (d *Directory) GetOrCreate(ctx context.Context, a, b string) (storage.Conversation, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" || a == b {
		return storage.Conversation{}, apperr.ErrInvalidParticipants
	}
	low, high := storage.PairKey(a, b)
	return d.convs.GetOrCreate(ctx, uuid.NewString(), low, high, d.now().UTC())
}

// ListFor returns the caller's conversations, or every conversation for the admin.
func (d *Directory) ListFor(ctx context.Context, id auth.Identity) ([]storage.Conversation, error) {
	if id.IsAdmin {
		return d.convs.ListAll(ctx)
	}
	return d.convs.ListByParticipant(ctx, id.ID)
}

// Authorize is the access gate: the conversation must exist and the caller
// must be one of its two participants.
func (d *Directory) Authorize(ctx context.Context, id auth.Identity, conversationID string) (storage.Conversation, error) {
	if conversationID == "" {
		return storage.Conversation{}, fmt.Errorf("%w: conversation id is required", apperr.ErrInvalidInput)
	}
	c, err := d.convs.Get(ctx, conversationID)
	if err != nil {
		return storage.Conversation{}, err
	}
	if !c.Has(id.ID) {
		return storage.Conversation{}, fmt.Errorf("conversation %s: %w", conversationID, apperr.ErrForbidden)
	}
	return c, nil
}

func (d *Directory) CanAccess(ctx context.Context, id auth.Identity, conversationID string) bool {
	_, err := d.Authorize(ctx, id, conversationID)
	return err == nil
}

// Summary is a conversation as shown in a conversation list.
type Summary struct {
	storage.Conversation
	UnreadCount         int              `json:"unreadCount"`
	LastMessage         *storage.Message `json:"lastMessage"`
	LastMessageIsFromMe bool             `json:"lastMessageIsFromMe"`
}

// Summaries is ListFor enriched with the caller's unread count and the last
// visible message of each conversation.
func (d *Directory) Summaries(ctx context.Context, id auth.Identity) ([]Summary, error) {
	list, err := d.ListFor(ctx, id)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(list))
	for i, c := range list {
		ids[i] = c.ID
	}
	digests, err := d.msgs.Digests(ctx, id.ID, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(list))
	for _, c := range list {
		s := Summary{Conversation: c}
		if dg, ok := digests[c.ID]; ok {
			last := dg.Last
			s.UnreadCount = dg.Unread
			s.LastMessage = &last
			s.LastMessageIsFromMe = last.SenderID == id.ID
		}
		out = append(out, s)
	}
	return out, nil
}

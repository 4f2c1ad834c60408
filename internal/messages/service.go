// Package messages is the durable per-conversation message log. Every change
// is committed first and then handed to the Broadcaster while the
// conversation's lock is still held, so subscribers see changes in commit order.
package messages

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edufund/supportchat/backend/internal/apperr"
	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/conversations"
	"github.com/edufund/supportchat/backend/internal/storage"
)

// MaxLength is the longest message accepted, in runes.
const MaxLength = 4000

const (
	EventNew       = "message:new"
	EventDelivered = "message:delivered"
	EventRead      = "message:read"
	EventDeleted   = "message:deleted"
)

// Broadcaster fans committed changes out to live connections. Calls must not block.
type Broadcaster interface {
	MessageCreated(m storage.Message, sender auth.Identity)
	MessageUpdated(event string, m storage.Message)
}

// Notifier is told about every new message after the broadcast, outside the
// conversation lock. It decides on its own whether the receiver needs an email.
type Notifier interface {
	MessageSent(ctx context.Context, m storage.Message, sender auth.Identity)
}

type Service struct {
	dir    *conversations.Directory
	convs  storage.ConversationRepo
	msgs   storage.MessageRepo
	bus    Broadcaster
	notify Notifier
	log    *zap.Logger
	locks  *keyedMutex
	now    func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notify = n } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(dir *conversations.Directory, store storage.Store, bus Broadcaster, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		dir:   dir,
		convs: store.Conversations(),
		msgs:  store.Messages(),
		bus:   bus,
		log:   log.Named("messages"),
		locks: newKeyedMutex(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append stores a message from sender. The receiver is always the other
// participant; a client-asserted receiver that disagrees is refused.
func (s *Service) Append(ctx context.Context, sender auth.Identity, conversationID, receiverID, text string) (storage.Message, error) {
	conv, err := s.dir.Authorize(ctx, sender, conversationID)
	if err != nil {
		return storage.Message{}, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return storage.Message{}, apperr.ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxLength {
		return storage.Message{}, apperr.ErrMessageTooLong
	}

	derived, _ := conv.Other(sender.ID)
	if receiverID != "" && receiverID != derived {
		return storage.Message{}, fmt.Errorf("%w: receiver %s is not the other participant", apperr.ErrForbidden, receiverID)
	}

	m, err := s.commitNew(ctx, storage.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		ReceiverID:     derived,
		Text:           text,
		Status:         storage.StatusSent,
	}, sender)
	if err != nil {
		return storage.Message{}, err
	}

	if s.notify != nil {
		s.notify.MessageSent(ctx, m, sender)
	}
	return m, nil
}

// commitNew stamps and inserts m under the conversation lock. createdAt never
// falls behind the conversation's last message, so history sorted by time
// matches the order messages were broadcast.
func (s *Service) commitNew(ctx context.Context, m storage.Message, sender auth.Identity) (storage.Message, error) {
	unlock := s.locks.Lock(m.ConversationID)
	defer unlock()

	conv, err := s.convs.Get(ctx, m.ConversationID)
	if err != nil {
		return storage.Message{}, err
	}
	m.CreatedAt = s.now().UTC()
	if conv.LastMessageAt != nil && m.CreatedAt.Before(*conv.LastMessageAt) {
		m.CreatedAt = conv.LastMessageAt.UTC()
	}

	m, err = s.msgs.Insert(ctx, m)
	if err != nil {
		return storage.Message{}, err
	}
	s.bus.MessageCreated(m, sender)
	return m, nil
}

// ListFor returns the visible history in commit order. Messages addressed to
// the caller that were still "sent" become "delivered" first.
func (s *Service) ListFor(ctx context.Context, id auth.Identity, conversationID string) ([]storage.Message, error) {
	conv, err := s.dir.Authorize(ctx, id, conversationID)
	if err != nil {
		return nil, err
	}

	if err := s.deliverPending(ctx, conv.ID, id.ID); err != nil {
		return nil, err
	}

	list, err := s.msgs.List(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []storage.Message{}
	}
	return list, nil
}

func (s *Service) deliverPending(ctx context.Context, conversationID, receiverID string) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	changed, err := s.msgs.MarkDelivered(ctx, conversationID, receiverID)
	if err != nil {
		return err
	}
	for _, m := range changed {
		s.bus.MessageUpdated(EventDelivered, m)
	}
	if len(changed) > 0 {
		s.log.Debug("delivered backlog",
			zap.String("conversation", conversationID),
			zap.Int("count", len(changed)))
	}
	return nil
}

// MarkRead moves a message to "read". Only its receiver may do this; repeating
// it is a no-op and broadcasts nothing.
func (s *Service) MarkRead(ctx context.Context, id auth.Identity, messageID string) (storage.Message, error) {
	m, err := s.visible(ctx, messageID)
	if err != nil {
		return storage.Message{}, err
	}
	if m.ReceiverID != id.ID {
		return storage.Message{}, fmt.Errorf("message %s: %w: only the receiver can mark it read", messageID, apperr.ErrForbidden)
	}
	return s.advance(ctx, m, storage.StatusRead, EventRead)
}

// MarkDelivered records that a live connection of receiverID got the push.
func (s *Service) MarkDelivered(ctx context.Context, receiverID, messageID string) (storage.Message, error) {
	m, err := s.visible(ctx, messageID)
	if err != nil {
		return storage.Message{}, err
	}
	if m.ReceiverID != receiverID {
		return storage.Message{}, fmt.Errorf("message %s: %w", messageID, apperr.ErrForbidden)
	}
	return s.advance(ctx, m, storage.StatusDelivered, EventDelivered)
}

func (s *Service) visible(ctx context.Context, messageID string) (storage.Message, error) {
	m, err := s.msgs.Get(ctx, messageID)
	if err != nil {
		return storage.Message{}, err
	}
	if m.Deleted() {
		return storage.Message{}, fmt.Errorf("message %s: %w", messageID, apperr.ErrNotFound)
	}
	return m, nil
}

func (s *Service) advance(ctx context.Context, m storage.Message, to storage.Status, event string) (storage.Message, error) {
	unlock := s.locks.Lock(m.ConversationID)
	defer unlock()

	updated, changed, err := s.msgs.Advance(ctx, m.ID, m.ReceiverID, to)
	if err != nil {
		return storage.Message{}, err
	}
	if changed {
		s.bus.MessageUpdated(event, updated)
	}
	return updated, nil
}

// SoftDelete hides a message from history. Only the sender may delete, and
// deleting twice is harmless.
func (s *Service) SoftDelete(ctx context.Context, id auth.Identity, messageID string) (storage.Message, error) {
	m, err := s.msgs.Get(ctx, messageID)
	if err != nil {
		return storage.Message{}, err
	}
	if m.SenderID != id.ID {
		return storage.Message{}, fmt.Errorf("message %s: %w: only the sender can delete it", messageID, apperr.ErrForbidden)
	}

	unlock := s.locks.Lock(m.ConversationID)
	defer unlock()

	updated, changed, err := s.msgs.SoftDelete(ctx, messageID, id.ID, s.now().UTC())
	if err != nil {
		return storage.Message{}, err
	}
	if changed {
		s.bus.MessageUpdated(EventDeleted, updated)
	}
	return updated, nil
}

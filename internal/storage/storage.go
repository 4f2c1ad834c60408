// Package storage defines the persistence model of the chat core and the repository
// interfaces it is accessed through. Implementations live in the memory and sqlstore
// subpackages and are chosen once at startup.
package storage

import (
	"context"
	"time"
)

type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Rank orders statuses along the forward-only delivery path.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Before returns the statuses a message may hold to be moved forward to s.
func (s Status) Before() []Status {
	var out []Status
	for _, st := range []Status{StatusSent, StatusDelivered, StatusRead} {
		if st.Rank() < s.Rank() {
			out = append(out, st)
		}
	}
	return out
}

// Conversation is the durable two-party channel. Participants are stored in
// canonical order (ParticipantA < ParticipantB).
type Conversation struct {
	ID            string     `json:"id"`
	ParticipantA  string     `json:"participantA"`
	ParticipantB  string     `json:"participantB"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

// Has reports whether userID is one of the two participants.
func (c Conversation) Has(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID string) (string, bool) {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB, true
	case c.ParticipantB:
		return c.ParticipantA, true
	}
	return "", false
}

// PairKey canonicalizes an unordered participant pair.
func PairKey(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	ReceiverID     string     `json:"receiverId"`
	Text           string     `json:"message"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`

	// Seq is the commit order assigned by the repository.
	Seq int64 `json:"-"`
}

func (m Message) Deleted() bool { return m.DeletedAt != nil }

// User is a directory entry synced from the identity provider.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

type ConversationRepo interface {
	// GetOrCreate returns the conversation for the canonical pair (low, high),
	// inserting it with id and now when absent. Concurrent callers converge on one row.
	GetOrCreate(ctx context.Context, id, low, high string, now time.Time) (Conversation, error)
	Get(ctx context.Context, id string) (Conversation, error)
	ListByParticipant(ctx context.Context, userID string) ([]Conversation, error)
	ListAll(ctx context.Context) ([]Conversation, error)
	Count(ctx context.Context) (int, error)
}

// Digest is a conversation's unread count for one viewer and its latest
// visible message.
type Digest struct {
	Unread int
	Last   Message
}

type MessageRepo interface {
	// Insert persists m and advances the conversation's last message time in one unit.
	Insert(ctx context.Context, m Message) (Message, error)
	// Get returns a message, soft-deleted ones included.
	Get(ctx context.Context, id string) (Message, error)
	// List returns the non-deleted messages of a conversation in commit order.
	List(ctx context.Context, conversationID string) ([]Message, error)
	// MarkDelivered moves every sent message addressed to receiverID in the
	// conversation to delivered and returns the messages that changed.
	MarkDelivered(ctx context.Context, conversationID, receiverID string) ([]Message, error)
	// Advance conditionally moves message id, addressed to receiverID, forward to
	// status to. changed is false when the message already had that status or later.
	Advance(ctx context.Context, id, receiverID string, to Status) (m Message, changed bool, err error)
	// SoftDelete marks a message sent by senderID as deleted.
	SoftDelete(ctx context.Context, id, senderID string, at time.Time) (m Message, changed bool, err error)
	// Digests summarises the given conversations for viewerID in one pass.
	// Conversations without visible messages are absent from the result.
	Digests(ctx context.Context, viewerID string, conversationIDs []string) (map[string]Digest, error)
	Count(ctx context.Context) (total, unread int, err error)
}

type UserRepo interface {
	Upsert(ctx context.Context, u User) (User, error)
	Get(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context) ([]User, error)
}

// Store bundles the repositories of one backing store.
type Store interface {
	Conversations() ConversationRepo
	Messages() MessageRepo
	Users() UserRepo
	Ping(ctx context.Context) error
	Close() error
}

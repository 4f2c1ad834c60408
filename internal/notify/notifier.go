// Package notify emails a receiver who is offline when a message arrives.
// Emails are throttled per receiver and conversation.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/messages"
	"github.com/edufund/supportchat/backend/internal/storage"
	"github.com/edufund/supportchat/backend/internal/utils"
)

const previewLength = 120

// Job is one pending offline notification.
type Job struct {
	ReceiverID     string `json:"receiverId"`
	ConversationID string `json:"conversationId"`
	SenderEmail    string `json:"senderEmail"`
	Preview        string `json:"preview"`
}

// Key identifies the throttle bucket of a job.
func (j Job) Key() string { return j.ReceiverID + ":" + j.ConversationID }

// Dispatcher runs jobs, dropping the ones that fall inside the cooldown.
type Dispatcher interface {
	Dispatch(ctx context.Context, j Job) error
}

type PresenceChecker interface {
	Online(ctx context.Context, userID string) bool
}

// Notifier decides whether a new message deserves an email.
type Notifier struct {
	presence PresenceChecker
	dispatch Dispatcher
	log      *zap.Logger
}

var _ messages.Notifier = (*Notifier)(nil)

func NewNotifier(presence PresenceChecker, dispatch Dispatcher, log *zap.Logger) *Notifier {
	return &Notifier{presence: presence, dispatch: dispatch, log: log.Named("notify")}
}

func (n *Notifier) MessageSent(ctx context.Context, m storage.Message, sender auth.Identity) {
	if n.presence.Online(ctx, m.ReceiverID) {
		return
	}
	job := Job{
		ReceiverID:     m.ReceiverID,
		ConversationID: m.ConversationID,
		SenderEmail:    sender.Email,
		Preview:        utils.Preview(m.Text, previewLength),
	}
	if err := n.dispatch.Dispatch(ctx, job); err != nil {
		n.log.Warn("offline notification not queued", zap.String("receiver", m.ReceiverID), zap.Error(err))
	}
}

// Sender turns a job into an email to the receiver's synced address.
type Sender struct {
	users  storage.UserRepo
	mailer Mailer
}

func NewSender(users storage.UserRepo, mailer Mailer) *Sender {
	return &Sender{users: users, mailer: mailer}
}

func (s *Sender) Handle(ctx context.Context, j Job) error {
	u, err := s.users.Get(ctx, j.ReceiverID)
	if err != nil {
		return fmt.Errorf("receiver %s: %w", j.ReceiverID, err)
	}
	from := j.SenderEmail
	if from == "" {
		from = "EduFund Support"
	}
	return s.mailer.Send(ctx, Email{
		To:      u.Email,
		Subject: "You have a new message",
		Text:    fmt.Sprintf("%s sent you a message:\n\n%s\n\nSign in to reply.", from, j.Preview),
	})
}

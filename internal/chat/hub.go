package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/messages"
	"github.com/edufund/supportchat/backend/internal/storage"
	"github.com/edufund/supportchat/backend/internal/utils"
)

// Delivery is one outbound event addressed to a conversation room, a user's
// personal channel, or both. It is what travels between nodes through a Broker.
type Delivery struct {
	Room        string          `json:"room,omitempty"`
	User        string          `json:"user,omitempty"`
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data"`
	ExcludeConn string          `json:"excludeConn,omitempty"`

	// Receipt, when set, marks the message delivered once any connection of
	// the receiver got this event.
	Receipt *Receipt `json:"receipt,omitempty"`
}

type Receipt struct {
	UserID    string `json:"userId"`
	MessageID string `json:"messageId"`
}

// Broker shares deliveries with every node. Each node's subscriber hands what
// it receives to Hub.DeliverLocal.
type Broker interface {
	Publish(ctx context.Context, d Delivery) error
}

// Presence counts a user's live connections across the deployment.
type Presence interface {
	Connect(ctx context.Context, userID string) (first bool, err error)
	Disconnect(ctx context.Context, userID string) (last bool, err error)
	Online(ctx context.Context, userID string) (bool, error)
	// Refresh keeps the counters of users still connected here from expiring.
	Refresh(ctx context.Context, userIDs []string) error
}

// DeliveredFunc records that a receiver's connection got a message push.
type DeliveredFunc func(ctx context.Context, receiverID, messageID string) (storage.Message, error)

const previewLength = 50

type notification struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderEmail    string `json:"senderEmail"`
	Preview        string `json:"preview"`
}

// Hub tracks live connections by conversation room and by user. A user may
// hold several connections (tabs, devices) at once.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	users map[string]map[*Client]struct{}

	broker    Broker
	presence  Presence
	delivered DeliveredFunc
	log       *zap.Logger
}

var _ messages.Broadcaster = (*Hub)(nil)

type HubOption func(*Hub)

func WithBroker(b Broker) HubOption { return func(h *Hub) { h.broker = b } }

func WithPresence(p Presence) HubOption { return func(h *Hub) { h.presence = p } }

func NewHub(log *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		rooms:    make(map[string]map[*Client]struct{}),
		users:    make(map[string]map[*Client]struct{}),
		presence: NewLocalPresence(),
		log:      log.Named("hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnDelivered installs the receipt hook. It runs on its own goroutine because
// deliveries happen while the message store holds the conversation lock.
func (h *Hub) OnDelivered(fn DeliveredFunc) {
	h.mu.Lock()
	h.delivered = fn
	h.mu.Unlock()
}

// Attach registers an authenticated client on its user's personal channel and
// reports whether it is the user's first live connection.
func (h *Hub) Attach(ctx context.Context, c *Client) bool {
	h.mu.Lock()
	set := h.users[c.UserID()]
	if set == nil {
		set = make(map[*Client]struct{})
		h.users[c.UserID()] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	first, err := h.presence.Connect(ctx, c.UserID())
	if err != nil {
		h.log.Warn("presence connect", zap.String("user", c.UserID()), zap.Error(err))
	}
	return first
}

// Detach drops every membership of c and reports whether it was the user's
// last live connection. Detaching an unknown client is a no-op.
func (h *Hub) Detach(ctx context.Context, c *Client) bool {
	h.mu.Lock()
	set, ok := h.users[c.UserID()]
	if ok {
		_, ok = set[c]
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.UserID())
		}
	}
	for room, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	if !ok {
		return false
	}
	last, err := h.presence.Disconnect(ctx, c.UserID())
	if err != nil {
		h.log.Warn("presence disconnect", zap.String("user", c.UserID()), zap.Error(err))
	}
	return last
}

func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) Leave(room string, c *Client) {
	h.mu.Lock()
	if members := h.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
}

// Online reports whether userID has a live connection on any node.
func (h *Hub) Online(ctx context.Context, userID string) bool {
	ok, err := h.presence.Online(ctx, userID)
	if err != nil {
		h.log.Warn("presence lookup", zap.String("user", userID), zap.Error(err))
		return false
	}
	return ok
}

// KeepPresence refreshes the presence of every locally connected user each
// interval until ctx is done.
func (h *Hub) KeepPresence(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.refreshPresence(ctx)
		}
	}
}

func (h *Hub) refreshPresence(ctx context.Context) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.users))
	for id := range h.users {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	if len(ids) == 0 {
		return
	}
	if err := h.presence.Refresh(ctx, ids); err != nil {
		h.log.Warn("presence refresh", zap.Int("users", len(ids)), zap.Error(err))
	}
}

// Deliver routes d through the broker when one is configured, locally otherwise.
func (h *Hub) Deliver(d Delivery) {
	if h.broker == nil {
		h.DeliverLocal(d)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.broker.Publish(ctx, d); err != nil {
		// local connections still get the event
		h.log.Warn("broker publish failed", zap.String("event", d.Event), zap.Error(err))
		h.DeliverLocal(d)
	}
}

// DeliverLocal writes d to the matching connections of this node. Slow
// connections are dropped rather than waited on.
func (h *Hub) DeliverLocal(d Delivery) {
	payload, err := json.Marshal(Frame{Type: d.Event, Data: d.Data})
	if err != nil {
		h.log.Error("marshal frame", zap.String("event", d.Event), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make(map[*Client]struct{})
	if d.Room != "" {
		for c := range h.rooms[d.Room] {
			targets[c] = struct{}{}
		}
	}
	if d.User != "" {
		for c := range h.users[d.User] {
			targets[c] = struct{}{}
		}
	}
	hook := h.delivered
	h.mu.RUnlock()

	receipt := false
	for c := range targets {
		if d.ExcludeConn != "" && c.ID == d.ExcludeConn {
			continue
		}
		if !c.Send(payload) {
			h.log.Info("dropped slow client", zap.String("user", c.UserID()), zap.String("conn", c.ID))
			continue
		}
		if d.Receipt != nil && c.UserID() == d.Receipt.UserID {
			receipt = true
		}
	}

	if receipt && hook != nil {
		r := *d.Receipt
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			defer cancel()
			if _, err := hook(ctx, r.UserID, r.MessageID); err != nil {
				h.log.Warn("mark delivered", zap.String("message", r.MessageID), zap.Error(err))
			}
		}()
	}
}

func (h *Hub) emit(room, user, event string, v any, receipt *Receipt) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	h.Deliver(Delivery{Room: room, User: user, Event: event, Data: data, Receipt: receipt})
}

// MessageCreated pushes message:new to the room and a short notification to
// the receiver's personal channel. Every live connection of the receiver is on
// that channel, joined or not, so the notification carries the receipt.
func (h *Hub) MessageCreated(m storage.Message, sender auth.Identity) {
	h.emit(m.ConversationID, "", messages.EventNew, m, nil)
	h.emit("", m.ReceiverID, EventNotification, notification{
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderEmail:    sender.Email,
		Preview:        utils.Preview(m.Text, previewLength),
	}, &Receipt{UserID: m.ReceiverID, MessageID: m.ID})
}

func (h *Hub) MessageUpdated(event string, m storage.Message) {
	h.emit(m.ConversationID, "", event, m, nil)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Client
	for _, set := range h.users {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		c.Shutdown(closeGoingAway, "server shutting down")
	}
}

// LocalPresence counts connections of this process only.
type LocalPresence struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewLocalPresence() *LocalPresence {
	return &LocalPresence{counts: make(map[string]int)}
}

func (p *LocalPresence) Connect(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[userID]++
	return p.counts[userID] == 1, nil
}

func (p *LocalPresence) Disconnect(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts[userID] <= 1 {
		delete(p.counts, userID)
		return true, nil
	}
	p.counts[userID]--
	return false, nil
}

func (p *LocalPresence) Online(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0, nil
}

func (p *LocalPresence) Refresh(context.Context, []string) error { return nil }

// Package relay shares realtime deliveries and presence between processes
// through Redis, so connections on different nodes see the same events.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edufund/supportchat/backend/internal/chat"
)

const (
	DefaultChannel = "supportchat:deliveries"
	presencePrefix = "supportchat:presence:"
	presenceTTL    = 24 * time.Hour

	// PresenceRefresh is how often nodes extend their users' counters.
	PresenceRefresh = time.Hour
)

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

// Broker publishes every delivery on one pub/sub channel; each node runs a
// subscriber that hands deliveries to its local hub.
type Broker struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

var _ chat.Broker = (*Broker)(nil)

func NewBroker(client *redis.Client, log *zap.Logger) *Broker {
	return &Broker{client: client, channel: DefaultChannel, log: log.Named("relay")}
}

func (b *Broker) Publish(ctx context.Context, d chat.Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("relay: encode %s: %w", d.Event, err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Run subscribes and calls deliver for every message until ctx is done.
// It returns an error only when the subscription itself fails.
func (b *Broker) Run(ctx context.Context, deliver func(chat.Delivery)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay: subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay: subscription closed")
			}
			var d chat.Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				b.log.Warn("dropping malformed delivery", zap.Error(err))
				continue
			}
			deliver(d)
		}
	}
}

// Presence counts live connections per user in Redis. Each node refreshes the
// counters of its connected users every PresenceRefresh; a counter nobody
// refreshes for a day expires, so a crashed node cannot pin a user online.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

var _ chat.Presence = (*Presence)(nil)

func NewPresence(client *redis.Client) *Presence {
	return &Presence{client: client, ttl: presenceTTL}
}

func (p *Presence) Connect(ctx context.Context, userID string) (bool, error) {
	key := presencePrefix + userID
	pipe := p.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("presence connect: %w", err)
	}
	return incr.Val() == 1, nil
}

func (p *Presence) Disconnect(ctx context.Context, userID string) (bool, error) {
	key := presencePrefix + userID
	n, err := p.client.Decr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("presence disconnect: %w", err)
	}
	if n <= 0 {
		if err := p.client.Del(ctx, key).Err(); err != nil {
			return true, fmt.Errorf("presence clear: %w", err)
		}
		return true, nil
	}
	return false, nil
}

func (p *Presence) Refresh(ctx context.Context, userIDs []string) error {
	pipe := p.client.Pipeline()
	for _, id := range userIDs {
		pipe.Expire(ctx, presencePrefix+id, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence refresh: %w", err)
	}
	return nil
}

func (p *Presence) Online(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.Get(ctx, presencePrefix+userID).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("presence lookup: %w", err)
	}
	return n > 0, nil
}

package app

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edufund/supportchat/backend/internal/chat"
	"github.com/edufund/supportchat/backend/internal/config"
	"github.com/edufund/supportchat/backend/internal/relay"
)

// provideRedis returns nil when REDIS_URL is unset; the node then runs alone
// with in-process fan-out and presence.
func provideRedis(cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	c, err := relay.Connect(context.Background(), cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	log.Info("redis relay enabled")
	return c, nil
}

func provideRelay(rc *redis.Client, log *zap.Logger) (*relay.Broker, chat.Presence) {
	if rc == nil {
		return nil, nil
	}
	return relay.NewBroker(rc, log), relay.NewPresence(rc)
}

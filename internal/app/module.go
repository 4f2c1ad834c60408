// Package app assembles the chat backend from its parts and ties their
// lifetimes to an fx application.
package app

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/edufund/supportchat/backend/internal/auth"
	"github.com/edufund/supportchat/backend/internal/chat"
	"github.com/edufund/supportchat/backend/internal/config"
	"github.com/edufund/supportchat/backend/internal/conversations"
	"github.com/edufund/supportchat/backend/internal/logging"
	"github.com/edufund/supportchat/backend/internal/messages"
	"github.com/edufund/supportchat/backend/internal/relay"
	"github.com/edufund/supportchat/backend/internal/storage"
	"github.com/edufund/supportchat/backend/internal/users"
)

func Module(cfg config.Config) fx.Option {
	return fx.Module("supportchat",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideStore,
			provideResolver,
			provideRedis,
			provideRelay,
			provideHub,
			conversations.NewDirectory,
			provideUsers,
			provideNotifications,
			provideMessages,
			provideGateway,
			NewRouter,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg config.Config) *zap.Logger {
	return logging.New(cfg.Env, cfg.LogLevel)
}

func provideResolver(cfg config.Config) (auth.Authenticator, error) {
	r, err := auth.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func provideUsers(cfg config.Config, store storage.Store) *users.Directory {
	return users.NewDirectory(store, cfg.AdminEmail, cfg.AdminUserID)
}

func provideHub(broker *relay.Broker, presence chat.Presence, log *zap.Logger) *chat.Hub {
	var opts []chat.HubOption
	if broker != nil {
		opts = append(opts, chat.WithBroker(broker))
	}
	if presence != nil {
		opts = append(opts, chat.WithPresence(presence))
	}
	return chat.NewHub(log, opts...)
}

func provideMessages(dir *conversations.Directory, store storage.Store, hub *chat.Hub, n *Notifications, log *zap.Logger) *messages.Service {
	var opts []messages.Option
	if n != nil {
		opts = append(opts, messages.WithNotifier(n.Notifier))
	}
	svc := messages.NewService(dir, store, hub, log, opts...)
	hub.OnDelivered(svc.MarkDelivered)
	return svc
}

func provideGateway(cfg config.Config, hub *chat.Hub, a auth.Authenticator, dir *conversations.Directory, msgs *messages.Service, log *zap.Logger) *chat.Gateway {
	return chat.NewGateway(hub, a, dir, msgs, log, cfg.WSAuthTimeout)
}

type lifecycleParams struct {
	fx.In

	Lifecycle     fx.Lifecycle
	Log           *zap.Logger
	Server        *Server
	Hub           *chat.Hub
	Store         storage.Store
	Broker        *relay.Broker
	Redis         *redis.Client
	Notifications *Notifications
}

func registerLifecycle(p lifecycleParams) {
	ctx, cancel := context.WithCancel(context.Background())

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if p.Notifications != nil {
				if err := p.Notifications.start(); err != nil {
					cancel()
					return err
				}
			}
			if p.Broker != nil {
				go func() {
					if err := p.Broker.Run(ctx, p.Hub.DeliverLocal); err != nil && ctx.Err() == nil {
						p.Log.Error("relay stopped", zap.Error(err))
					}
				}()
				go p.Hub.KeepPresence(ctx, relay.PresenceRefresh)
			}
			return p.Server.Start()
		},
		OnStop: func(stopCtx context.Context) error {
			err := p.Server.Stop(stopCtx)
			p.Hub.Close()
			cancel()
			if p.Notifications != nil {
				p.Notifications.stop()
			}
			if p.Redis != nil {
				_ = p.Redis.Close()
			}
			if cerr := p.Store.Close(); cerr != nil {
				p.Log.Warn("closing store", zap.Error(cerr))
			}
			_ = p.Log.Sync()
			return err
		},
	})
}

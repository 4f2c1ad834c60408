package app

import (
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/edufund/supportchat/backend/internal/chat"
	"github.com/edufund/supportchat/backend/internal/config"
	"github.com/edufund/supportchat/backend/internal/notify"
	"github.com/edufund/supportchat/backend/internal/storage"
)

// Notifications is the offline email pipeline. It is nil when no SendGrid
// key is configured.
type Notifications struct {
	Notifier *notify.Notifier

	inline *notify.InlineDispatcher
	client *asynq.Client
	worker *notify.Worker
}

func provideNotifications(cfg config.Config, store storage.Store, hub *chat.Hub, log *zap.Logger) (*Notifications, error) {
	if cfg.SendGridAPIKey == "" {
		log.Info("offline email notifications disabled")
		return nil, nil
	}
	sender := notify.NewSender(store.Users(), notify.NewSendGridMailer(cfg.SendGridAPIKey, cfg.SendGridFrom))

	if cfg.RedisURL == "" {
		inline := notify.NewInlineDispatcher(sender, cfg.NotifyCooldown, log)
		return &Notifications{
			Notifier: notify.NewNotifier(hub, inline, log),
			inline:   inline,
		}, nil
	}

	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := asynq.NewClient(opt)
	return &Notifications{
		Notifier: notify.NewNotifier(hub, notify.NewQueueDispatcher(client, cfg.NotifyCooldown), log),
		client:   client,
		worker:   notify.NewWorker(opt, sender, log),
	}, nil
}

func (n *Notifications) start() error {
	if n.worker != nil {
		return n.worker.Start()
	}
	return nil
}

func (n *Notifications) stop() {
	if n.worker != nil {
		n.worker.Shutdown()
	}
	if n.client != nil {
		_ = n.client.Close()
	}
	if n.inline != nil {
		n.inline.Wait()
	}
}

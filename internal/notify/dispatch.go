package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TaskOfflineEmail = "notify:offline_email"
	queueName        = "notify"
	sendTimeout      = 10 * time.Second
)

// InlineDispatcher sends from a goroutine of this process and keeps the
// throttle in memory.
type InlineDispatcher struct {
	sender   *Sender
	cooldown time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
	wg   sync.WaitGroup
}

func NewInlineDispatcher(sender *Sender, cooldown time.Duration, log *zap.Logger) *InlineDispatcher {
	return &InlineDispatcher{
		sender:   sender,
		cooldown: cooldown,
		log:      log.Named("notify"),
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

func (d *InlineDispatcher) Dispatch(_ context.Context, j Job) error {
	if !d.allow(j.Key()) {
		return nil
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := d.sender.Handle(ctx, j); err != nil {
			d.log.Warn("offline email failed", zap.String("receiver", j.ReceiverID), zap.Error(err))
		}
	}()
	return nil
}

func (d *InlineDispatcher) allow(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if at, ok := d.last[key]; ok && now.Sub(at) < d.cooldown {
		return false
	}
	for k, at := range d.last {
		if now.Sub(at) >= d.cooldown {
			delete(d.last, k)
		}
	}
	d.last[key] = now
	return true
}

// Wait blocks until in-flight sends finish.
func (d *InlineDispatcher) Wait() { d.wg.Wait() }

// QueueDispatcher enqueues jobs on asynq. The task id is the throttle key and
// finished tasks are retained for the cooldown, so a second job inside the
// window conflicts and is dropped.
type QueueDispatcher struct {
	client   *asynq.Client
	cooldown time.Duration
}

func NewQueueDispatcher(client *asynq.Client, cooldown time.Duration) *QueueDispatcher {
	return &QueueDispatcher{client: client, cooldown: cooldown}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, j Job) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(3),
		asynq.Timeout(sendTimeout),
		asynq.TaskID(fmt.Sprintf("offline:%s", j.Key())),
	}
	if d.cooldown > 0 {
		opts = append(opts, asynq.Retention(d.cooldown))
	}

	_, err = d.client.EnqueueContext(ctx, asynq.NewTask(TaskOfflineEmail, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// Worker consumes offline email tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewWorker(redis asynq.RedisConnOpt, sender *Sender, log *zap.Logger) *Worker {
	log = log.Named("notify.worker")
	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{queueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Warn("task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskOfflineEmail, func(ctx context.Context, t *asynq.Task) error {
		var j Job
		if err := json.Unmarshal(t.Payload(), &j); err != nil {
			return fmt.Errorf("decode job: %v: %w", err, asynq.SkipRetry)
		}
		return sender.Handle(ctx, j)
	})
	return &Worker{server: srv, mux: mux}
}

func (w *Worker) Start() error { return w.server.Start(w.mux) }

func (w *Worker) Shutdown() { w.server.Shutdown() }

package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/hibiken/asynq"

	"github.com/xenking/kart-commerce/internal/domain/order"
)

// TaskClient is implemented by *asynq.Client.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueueConfig sets the queue options of notification tasks.
type EnqueueConfig struct {
	Queue    string        `default:"notifications"`
	MaxRetry int           `default:"5"`
	Timeout  time.Duration `default:"30s"`
}

// Enqueuer implements order.Notifier by enqueuing tasks.
type Enqueuer struct {
	client TaskClient
	opts   []asynq.Option
}

var _ order.Notifier = (*Enqueuer)(nil)

// NewEnqueuer returns an Enqueuer that submits tasks to client.
func NewEnqueuer(client TaskClient, cfg EnqueueConfig) *Enqueuer {
	var opts []asynq.Option
	if cfg.Queue != "" {
		opts = append(opts, asynq.Queue(cfg.Queue))
	}
	if cfg.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(cfg.MaxRetry))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, asynq.Timeout(cfg.Timeout))
	}
	return &Enqueuer{client: client, opts: opts}
}

// Notify enqueues a task for ev.
func (e *Enqueuer) Notify(ctx context.Context, ev order.Event) error {
	task, err := NewTask(ev, e.opts...)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return errors.Wrapf(err, "enqueue %s", task.Type())
	}
	return nil
}

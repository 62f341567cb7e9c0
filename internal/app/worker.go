package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/notify"
	"github.com/xenking/kart-commerce/internal/storage/postgres"
)

// RunWorker consumes notification tasks until ctx is cancelled.
func RunWorker(ctx context.Context, lg *zap.Logger, cfg *WorkerConfig) error {
	lg.Info("Initializing worker",
		zap.String("redis", cfg.RedisAddr),
		zap.String("queue", cfg.Queue),
		zap.Int("concurrency", cfg.Concurrency),
	)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	var mailer notify.Mailer = notify.NewLogMailer(lg.Named("mail"))
	if cfg.SMTP.Addr != "" {
		mailer = notify.NewSMTPMailer(cfg.SMTP)
	}
	worker := notify.NewWorker(postgres.NewOrderRepository(pool, 0), mailer, lg)

	mux := asynq.NewServeMux()
	worker.Register(mux)

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{cfg.Queue: 1},
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          lg.Named("asynq").Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, t *asynq.Task, err error) {
			lg.Warn("Task failed", zap.String("task", t.Type()), zap.Error(err))
		}),
	})
	if err := srv.Start(mux); err != nil {
		return errors.Wrap(err, "start worker")
	}
	lg.Info("Worker started")

	<-ctx.Done()
	lg.Info("Shutting down worker", zap.Duration("timeout", cfg.ShutdownTimeout))
	srv.Shutdown()
	return nil
}

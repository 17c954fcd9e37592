// Package scheduler drives the notification dispatcher from a Redis-backed
// asynq queue, so a periodic trigger fires once per cluster instead of once
// per API instance.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/michel-DC/Teamify-sub004/internal/model"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
)

// TypeProcessNotifications is the task that runs one dispatcher pass.
const TypeProcessNotifications = "notifications:process"

// Queue is the asynq queue reminder tasks run on.
const Queue = "notifications"

// Processor runs one dispatcher pass.
type Processor interface {
	ProcessEventNotifications(ctx context.Context) (model.DispatchResult, error)
}

// NewProcessNotificationsTask builds the periodic task. The payload is empty
// because the dispatcher derives its window from the clock.
func NewProcessNotificationsTask() *asynq.Task {
	return asynq.NewTask(TypeProcessNotifications, nil, asynq.Queue(Queue), asynq.MaxRetry(3), asynq.Timeout(5*time.Minute))
}

// Handler adapts a Processor to asynq.
type Handler struct {
	processor Processor
	log       *logger.Logger
}

// NewHandler creates a task handler.
func NewHandler(p Processor, log *logger.Logger) *Handler {
	return &Handler{processor: p, log: log.Named("scheduler")}
}

// ProcessTask implements asynq.Handler. Only a failure to run the pass at
// all is returned to asynq for retry; per-recipient errors are already
// counted in the result.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	res, err := h.processor.ProcessEventNotifications(ctx)
	if err != nil {
		h.log.Error("notification task failed", zap.String("task", t.Type()), zap.Error(err))
		return fmt.Errorf("process notifications: %w", err)
	}
	h.log.Debug("notification task done",
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", res.Errors))
	return nil
}

// NewServeMux registers h for the reminder task type.
func NewServeMux(h *Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeProcessNotifications, h)
	return mux
}

// Config configures the worker.
type Config struct {
	RedisURL    string
	Concurrency int
	Cron        string
}

// Worker owns the asynq server consuming reminder tasks and the scheduler
// enqueuing them on Cron.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	cron      string
	log       *logger.Logger
}

// NewWorker creates a worker for processor.
func NewWorker(cfg Config, processor Processor, log *logger.Logger) (*Worker, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("scheduler: redis url is required")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse redis url: %w", err)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Cron == "" {
		cfg.Cron = "@every 5m"
	}

	log = log.Named("scheduler")
	sugar := log.Sugar()
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{Queue: 1},
		Logger:      sugar,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Warn("task error", zap.String("task", task.Type()), zap.Error(err))
		}),
	})
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Logger:   sugar,
		Location: time.UTC,
	})

	return &Worker{
		server:    server,
		scheduler: scheduler,
		mux:       NewServeMux(NewHandler(processor, log)),
		cron:      cfg.Cron,
		log:       log,
	}, nil
}

// Run registers the periodic task and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	entryID, err := w.scheduler.Register(w.cron, NewProcessNotificationsTask())
	if err != nil {
		return fmt.Errorf("scheduler: register %q: %w", w.cron, err)
	}
	if err := w.scheduler.Start(); err != nil {
		return fmt.Errorf("scheduler: start: %w", err)
	}
	if err := w.server.Start(w.mux); err != nil {
		w.scheduler.Shutdown()
		return fmt.Errorf("scheduler: start server: %w", err)
	}
	w.log.Info("reminder worker started", zap.String("cron", w.cron), zap.String("entry_id", entryID))

	<-ctx.Done()
	w.scheduler.Shutdown()
	w.server.Shutdown()
	w.log.Info("reminder worker stopped")
	return nil
}

// Enqueuer triggers an immediate dispatcher pass through the queue.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer creates an enqueuer for redisURL.
func NewEnqueuer(redisURL string) (*Enqueuer, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse redis url: %w", err)
	}
	return &Enqueuer{client: asynq.NewClient(opt)}, nil
}

// Enqueue schedules one pass and returns the task id.
func (e *Enqueuer) Enqueue(ctx context.Context) (string, error) {
	info, err := e.client.EnqueueContext(ctx, NewProcessNotificationsTask())
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Close releases the client's connections.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

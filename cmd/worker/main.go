// Package main runs the reminder worker: an asynq scheduler that enqueues a
// dispatcher pass on a cron and a server that executes it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/michel-DC/Teamify-sub004/internal/app"
	"github.com/michel-DC/Teamify-sub004/internal/config"
	natsclient "github.com/michel-DC/Teamify-sub004/internal/nats"
	"github.com/michel-DC/Teamify-sub004/internal/scheduler"
	"github.com/michel-DC/Teamify-sub004/internal/service"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
)

// noLocal is the worker's bus sink: the worker has no sockets, it only
// publishes notification pushes for the API instances.
type noLocal struct{}

func (noLocal) PublishRoom(context.Context, string, []byte) error { return nil }
func (noLocal) PublishUser(context.Context, string, []byte) error { return nil }
func (noLocal) JoinUser(context.Context, string, string) error    { return nil }

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	unreadCache := app.OpenCache(ctx, cfg, log)
	if unreadCache != nil {
		defer unreadCache.Close()
	}

	var bus service.Broadcaster
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			Name:     "teamify-worker",
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		natsBus := natsclient.NewBus(natsClient, noLocal{}, log)
		if err := natsBus.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		bus = natsBus
	} else {
		log.Warn("NATS not configured; reminders are stored but not pushed live")
	}

	unreadSvc := service.NewUnreadService(st, unreadCache, cfg.UnreadCacheTTL, log)
	dispatcher := service.NewDispatcher(st, st, unreadSvc, bus, cfg.ReminderMilestones, log)

	worker, err := scheduler.NewWorker(scheduler.Config{
		RedisURL:    cfg.RedisURL,
		Concurrency: cfg.AsynqConcurrency,
		Cron:        cfg.ReminderCron,
	}, dispatcher, log)
	if err != nil {
		log.Fatal("failed to create worker", zap.Error(err))
	}

	if err := worker.Run(ctx); err != nil {
		log.Error("worker stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/michel-DC/Teamify-sub004/internal/app"
	"github.com/michel-DC/Teamify-sub004/internal/auth"
	"github.com/michel-DC/Teamify-sub004/internal/config"
	"github.com/michel-DC/Teamify-sub004/internal/handler"
	"github.com/michel-DC/Teamify-sub004/internal/middleware"
	natsclient "github.com/michel-DC/Teamify-sub004/internal/nats"
	"github.com/michel-DC/Teamify-sub004/internal/presence"
	"github.com/michel-DC/Teamify-sub004/internal/realtime"
	"github.com/michel-DC/Teamify-sub004/internal/scheduler"
	"github.com/michel-DC/Teamify-sub004/internal/service"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
	"github.com/michel-DC/Teamify-sub004/pkg/tracing"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	log.Info("starting API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "teamify-realtime", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	st, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	unreadCache := app.OpenCache(ctx, cfg, log)
	if unreadCache != nil {
		defer unreadCache.Close()
	}

	hub := realtime.NewHub(log)

	// Live fan-out goes through NATS when configured so sockets on every
	// instance see each frame; otherwise the local hub is the broadcaster.
	var bus service.Broadcaster = hub
	var natsClient *natsclient.Client
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			Name:     "teamify-api",
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		natsBus := natsclient.NewBus(natsClient, hub, log)
		if err := natsBus.Start(ctx); err != nil {
			log.Fatal("failed to start bus", zap.Error(err))
		}
		defer natsBus.Stop()
		bus = natsBus
	}

	announcer := presence.NewAnnouncer(st, bus, log)
	tracker := presence.NewTracker(cfg.PresenceGrace, announcer.Notify, log)
	defer tracker.Stop()

	// Services
	unreadSvc := service.NewUnreadService(st, unreadCache, cfg.UnreadCacheTTL, log)
	conversationSvc := service.NewConversationService(st, st, bus, log)
	messageSvc := service.NewMessageService(st, bus, unreadSvc, cfg.MaxContentLength, log)
	notificationSvc := service.NewNotificationService(st, unreadSvc, log)
	dispatcher := service.NewDispatcher(st, st, unreadSvc, bus, cfg.ReminderMilestones, log)

	verifier := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	gateway := realtime.NewGateway(verifier, st, messageSvc, tracker, hub, realtime.GatewayOptions{
		Client: realtime.ClientOptions{
			MaxMessageSize: cfg.WSMaxMessageSize,
			SendBuffer:     cfg.WSSendBuffer,
			RateBurst:      cfg.WSRateLimitBurst,
			RateInterval:   cfg.WSRateLimitRefill,
		},
		HandshakeTimeout: cfg.HandshakeTimeout,
		Origins:          realtime.NewOriginPolicy(cfg.AllowedOrigins, log),
	}, log)

	// Handlers
	checks := []handler.Check{{Name: "store", Probe: st.Ping}}
	if unreadCache != nil {
		checks = append(checks, handler.Check{Name: "redis", Probe: unreadCache.Ping})
	}
	if natsClient != nil {
		checks = append(checks, handler.Check{Name: "nats", Probe: natsClient.Ping})
	}
	healthHandler := handler.NewHealthHandler(checks...)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, log)
	notificationHandler := handler.NewNotificationHandler(notificationSvc, unreadSvc, dispatcher, log)
	if cfg.RedisURL != "" && cfg.ProcessViaQueue {
		enqueuer, err := scheduler.NewEnqueuer(cfg.RedisURL)
		if err != nil {
			log.Fatal("failed to create task enqueuer", zap.Error(err))
		}
		defer enqueuer.Close()
		notificationHandler.UseQueue(enqueuer)
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// The socket authenticates itself during the handshake.
	r.With(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)).Get("/ws", gateway.ServeHTTP)

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(verifier))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Post("/", conversationHandler.CreateGroup)
			r.Get("/private", conversationHandler.FindPrivate)
			r.Post("/private", conversationHandler.CreatePrivate)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
				r.Post("/read", messageHandler.MarkRead)
			})
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.List)
			r.Get("/unread-count", notificationHandler.UnreadCount)
			r.Post("/read", notificationHandler.MarkRead)
			r.Post("/process", notificationHandler.Process)
		})
	})

	// Optional in-process trigger for deployments without the worker.
	tickerCtx, stopTicker := context.WithCancel(ctx)
	defer stopTicker()
	if cfg.ReminderInterval > 0 {
		go runReminderTicker(tickerCtx, dispatcher, cfg.ReminderInterval, log)
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopTicker()
	gateway.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func runReminderTicker(ctx context.Context, d *service.Dispatcher, every time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.ProcessEventNotifications(ctx); err != nil {
				log.Warn("reminder pass failed", zap.Error(err))
			}
		}
	}
}

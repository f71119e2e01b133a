package main

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/clinic-chat/internal/api/http"
	"github.com/spec-kit/clinic-chat/internal/api/http/handlers"
	"github.com/spec-kit/clinic-chat/internal/auth"
	"github.com/spec-kit/clinic-chat/internal/config"
	"github.com/spec-kit/clinic-chat/internal/events"
	"github.com/spec-kit/clinic-chat/internal/observability"
	"github.com/spec-kit/clinic-chat/internal/persistence"
	"github.com/spec-kit/clinic-chat/internal/realtime"
	"github.com/spec-kit/clinic-chat/internal/repository"
	"github.com/spec-kit/clinic-chat/internal/service"
	"github.com/spec-kit/clinic-chat/internal/worker"
)

// server holds the assembled application.
type server struct {
	app   *fiber.App
	hub   *realtime.Hub
	relay worker.Relay // nil without Redis
}

type backends struct {
	postgres *persistence.Postgres
	redis    *persistence.Redis
}

func newServer(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics, be backends) *server {
	var (
		chatRepo    repository.ChatRepository
		messageRepo repository.MessageRepository
	)
	if be.postgres.Enabled() {
		chatRepo = repository.NewChatRepository(be.postgres.PoolHandle())
		messageRepo = repository.NewMessageRepository(be.postgres.PoolHandle())
	} else {
		store := repository.NewMemoryStore()
		chatRepo = store.Chats()
		messageRepo = store.Messages()
	}

	dispatcher := events.NewInMemoryDispatcher()
	chatService := service.NewChatService(service.ChatDependencies{
		ChatRepo:    chatRepo,
		MessageRepo: messageRepo,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, logger, cfg.Notification))

	hub := realtime.NewHub(logger, metrics)
	srv := &server{hub: hub}
	var broker realtime.Broker = realtime.NewLocalBroker(hub)
	if be.redis.Enabled() {
		redisBroker := realtime.NewRedisBroker(be.redis.Client, hub, cfg.Redis.ChannelPrefix, logger)
		broker = redisBroker
		srv.relay = redisBroker
	}
	worker.StartFanoutWorker(realtime.NewFanout(broker, logger), dispatcher)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	routes := httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, be.postgres, be.redis),
		Chats:  handlers.NewChatsHandler(chatService, metrics),
		Realtime: handlers.NewRealtimeHandler(realtime.ClientOptions{
			Hub:       hub,
			Authorize: chatService.CanJoin,
			Config:    cfg.Realtime,
			Logger:    logger,
			Metrics:   metrics,
		}),
		Metrics:        metrics.Handler(),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		RateLimit:      cfg.RateLimit,
	}
	if cfg.App.IsDevelopment() {
		routes.DevTokens = handlers.NewDevTokenHandler(tokens)
		logger.Warn("development token endpoint enabled at POST /dev/tokens")
	}
	httptransport.RegisterRoutes(app, routes)

	srv.app = app
	return srv
}

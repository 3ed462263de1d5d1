// Package main is the entry point for the messenger API server.
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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger/internal/config"
	"github.com/capitalize-ai/messenger/internal/handler"
	natsclient "github.com/capitalize-ai/messenger/internal/nats"
	"github.com/capitalize-ai/messenger/internal/presence"
	"github.com/capitalize-ai/messenger/internal/service"
	"github.com/capitalize-ai/messenger/internal/store"
	"github.com/capitalize-ai/messenger/internal/store/gormstore"
	"github.com/capitalize-ai/messenger/pkg/logger"
	"github.com/capitalize-ai/messenger/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messenger-api", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	var checks []handler.Check

	// Store gateway
	gateway, dbCheck, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	if dbCheck != nil {
		checks = append(checks, *dbCheck)
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		Name:     "messenger-api",
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to NATS", zap.Error(err))
	}
	defer natsClient.Close()
	checks = append(checks, handler.Check{Name: "nats", Ready: func(ctx context.Context) error {
		if !natsClient.IsConnected() {
			return errors.New("not connected")
		}
		return nil
	}})
	notifications := natsclient.NewBus(natsClient)

	// Presence registry
	members, redisCheck := openMembers(ctx, cfg, log)
	if redisCheck != nil {
		checks = append(checks, *redisCheck)
	}
	registry := presence.NewRegistry(notifications, members, cfg.PresenceTTL, log)
	registryDone := make(chan struct{})
	go func() {
		defer close(registryDone)
		if err := registry.Run(ctx); err != nil {
			log.Error("presence registry stopped", zap.Error(err))
		}
	}()

	// Initialize services
	conversationSvc := service.NewConversationService(gateway, notifications, log)
	seenCoordinator := service.NewSeenCoordinator(gateway, notifications, log)
	messageAuthority := service.NewMessageAuthority(gateway, notifications, log)
	userSvc := service.NewUserService(gateway)

	// Initialize handlers
	router := handler.Router{
		Health:            handler.NewHealthHandler(checks...),
		Conversations:     handler.NewConversationHandler(conversationSvc, seenCoordinator, log),
		Messages:          handler.NewMessageHandler(messageAuthority, log),
		Users:             handler.NewUserHandler(userSvc, log),
		Presence:          handler.NewPresenceHandler(registry, log),
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Logger:            log,
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	<-registryDone

	log.Info("server stopped")
}

// openStore picks the relational store when a DSN is configured and the
// in-memory store otherwise.
func openStore(cfg *config.Config, log *logger.Logger) (store.Gateway, *handler.Check, error) {
	if cfg.DatabaseDSN == "" {
		log.Warn("DATABASE_DSN not set, using in-memory store")
		return store.NewMemory(), nil, nil
	}

	db, err := gormstore.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseMigrate {
		if err := gormstore.Migrate(db); err != nil {
			return nil, nil, err
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to access database handle: %w", err)
	}

	check := &handler.Check{Name: "database", Ready: sqlDB.PingContext}
	return gormstore.New(db), check, nil
}

// openMembers keeps presence members in Redis when configured so several
// API instances share one registry view.
func openMembers(ctx context.Context, cfg *config.Config, log *logger.Logger) (presence.MemberStore, *handler.Check) {
	if cfg.RedisAddr == "" {
		log.Warn("REDIS_ADDR not set, presence members kept in memory")
		return presence.NewMemoryMembers(), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis not reachable yet", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	check := &handler.Check{Name: "redis", Ready: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
	return presence.NewRedisMembers(rdb, cfg.PresenceKey), check
}

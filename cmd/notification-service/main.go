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

	"github.com/gorilla/mux"
	"github.com/upstac/platform/pkg/common/config"
	"github.com/upstac/platform/pkg/common/database"
	"github.com/upstac/platform/pkg/common/kafka"
	"github.com/upstac/platform/pkg/common/logger"
	"github.com/upstac/platform/pkg/gateway/auth"
	"github.com/upstac/platform/pkg/gateway/middleware"
	"github.com/upstac/platform/pkg/gateway/routes"
	"github.com/upstac/platform/pkg/notification"
)

func main() {
	logger.Init()
	cfg := config.Load()

	tokens, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTTTL)
	if err != nil {
		logger.Log.WithError(err).Fatal("Invalid JWT configuration")
	}
	policy, err := auth.LoadPolicy(cfg.RBACPolicyFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load RBAC policy")
	}

	rdb := database.GetRedis(cfg)
	defer database.CloseRedis()

	inbox := notification.NewRedisInbox(rdb, cfg.NotificationInboxMax)
	notifier := notification.NewNotifier(inbox)

	consumer := kafka.NewConsumer(cfg, cfg.KafkaTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Consume(ctx, notifier.Handle); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Fatal("Consumer error")
		}
	}()

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	routes.NewOpsHandler(map[string]routes.ReadinessCheck{"redis": database.PingRedis}).Register(router)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.Authenticate(tokens, auth.NewRedisRevocationStore(rdb)))
	api.Use(middleware.RequireAction(auth.NewRoleAuthorizer(policy), auth.ActionReadNotifications))
	notification.NewHandler(inbox).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.NotificationPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":  cfg.ServerHost,
			"port":  cfg.NotificationPort,
			"topic": cfg.KafkaTopic,
		}).Info("Notification Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Notification Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Notification Service stopped")
}

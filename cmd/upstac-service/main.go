package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/upstac/platform/pkg/app"
	"github.com/upstac/platform/pkg/common/config"
	"github.com/upstac/platform/pkg/common/logger"
	"github.com/upstac/platform/pkg/seed"
)

func main() {
	logger.Init()
	cfg := config.Load()

	application, err := app.New(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize service")
	}
	defer application.Close()

	if err := application.Migrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate database")
	}

	if cfg.SeedFile != "" {
		fixtures, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to load seed file")
		}
		if _, err := application.Seeder().Apply(context.Background(), fixtures); err != nil {
			logger.Log.WithError(err).Fatal("Failed to seed fixtures")
		}
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      application.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":    cfg.ServerHost,
			"port":    cfg.ServerPort,
			"storage": cfg.StorageDriver,
		}).Info("UPSTAC Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down UPSTAC Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("UPSTAC Service stopped")
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"muni-portal/internal/collaborator"
	"muni-portal/internal/config"
	"muni-portal/internal/database"
	"muni-portal/internal/logger"
	"muni-portal/internal/storage"
	"muni-portal/internal/tasks"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logr := logger.New(cfg)
	defer logr.Sync()

	db, err := database.New(cfg.DatabaseURL, cfg)
	if err != nil {
		logr.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logr.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	store, err := storage.New(cfg.MediaRoot)
	if err != nil {
		logr.Fatal("failed to init media storage", zap.Error(err))
	}

	queue := tasks.NewQueue(rdb, cfg.TaskQueueKey)
	worker := tasks.NewWorker(queue, logr.Logger)

	newAPI := func() collaborator.API {
		return collaborator.NewClient(cfg.CollaboratorBaseURL, cfg.CollaboratorUsername, cfg.CollaboratorPassword, cfg.CollaboratorTimeout)
	}
	handlers := tasks.NewHandlers(db, queue, store, newAPI, tasks.WebPushConfig{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subject:    cfg.VAPIDSubject,
	}, logr.Logger)
	handlers.RegisterAll(worker)

	// Metrics listener, separate from the API server.
	metricsSrv := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Error("metrics listener failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logr.Info("shutting down worker...")
		cancel()
		_ = metricsSrv.Close()
	}()

	logr.Info("worker started", zap.String("queue", cfg.TaskQueueKey))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logr.Fatal("worker stopped", zap.Error(err))
	}
	logr.Info("worker exited gracefully")
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"sam3d-worker/api/rest/handlers"
	"sam3d-worker/api/rest/routes"
	"sam3d-worker/config"
	"sam3d-worker/core/dispatch"
	"sam3d-worker/core/handler"
	"sam3d-worker/core/monitoring"
	"sam3d-worker/core/pipeline"
	"sam3d-worker/core/repository"
	"sam3d-worker/storage"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg := config.Load()
	ctx := context.Background()

	// Cold volume: pull the checkpoint snapshot before anything validates
	// the directory.
	if cfg.CheckpointS3URI != "" {
		if _, err := os.Stat(cfg.CheckpointDir); os.IsNotExist(err) {
			fetcher, err := storage.NewS3Fetcher(ctx, cfg.AWSRegion, log)
			if err != nil {
				log.Fatalw("Failed to initialize S3 client", "error", err)
			}
			if err := fetcher.FetchSnapshot(ctx, cfg.CheckpointS3URI, cfg.CheckpointDir); err != nil {
				log.Fatalw("Failed to fetch checkpoint snapshot", "uri", cfg.CheckpointS3URI, "error", err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalw("Invalid configuration", "error", err)
	}

	// Job history is optional; the worker runs without external services.
	var history dispatch.HistoryStore = dispatch.NopHistory{}
	if cfg.DatabaseURL != "" {
		db, err := repository.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalw("Failed to connect to job history database", "error", err)
		}
		defer db.Close()
		if err := db.EnsureSchema(); err != nil {
			log.Fatalw("Failed to prepare job history schema", "error", err)
		}
		history = repository.NewJobRepository(db)
		log.Info("Job history database connected")
	}

	metrics := monitoring.NewMetrics()

	runner := pipeline.NewRunnerClient(cfg, log)
	defer runner.Close()

	jobHandler := handler.New(cfg, runner, metrics, log)

	dispatcher := dispatch.New(jobHandler, history, metrics, log, cfg.QueueCapacity)
	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	go dispatcher.Start(dispatchCtx)

	r := mux.NewRouter()
	routes.SetupRoutes(r, handlers.NewJobHandler(jobHandler, dispatcher, log), metrics)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Infow("Starting worker", "port", cfg.ServerPort, "checkpoint_dir", cfg.CheckpointDir, "device", cfg.Device)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("Server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Server forced to shutdown", "error", err)
	}

	cancelDispatch()
	dispatcher.Stop()
	log.Info("Worker exited")
}

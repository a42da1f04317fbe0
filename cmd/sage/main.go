// Sage server — provides the HTTP API, manages queue workers, and runs
// asynchronous solve jobs against the configured LLM provider.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/sagekit/sage/pkg/api"
	"github.com/sagekit/sage/pkg/config"
	"github.com/sagekit/sage/pkg/events"
	"github.com/sagekit/sage/pkg/provider"
	"github.com/sagekit/sage/pkg/queue"
	"github.com/sagekit/sage/pkg/services"
	"github.com/sagekit/sage/pkg/store"
	"github.com/sagekit/sage/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	// Parse command-line flags
	configPath := flag.String("config",
		getEnv("SAGE_CONFIG", ""),
		"Path to the YAML configuration file (empty = built-in defaults)")
	envPath := flag.String("env-file",
		getEnv("SAGE_ENV_FILE", ".env"),
		"Path to the .env file")
	flag.Parse()

	// Load .env before reading any configuration from the environment
	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envPath)
	}

	podID := resolvePodID()
	slog.Info("Starting sage",
		"version", version.Full(),
		"pod_id", podID,
		"config", *configPath)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(*configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect to Redis (job store, broker, and event bus)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: os.Getenv(cfg.Redis.PasswordEnv),
		DB:       cfg.Redis.DB,
	})
	jobStore := store.NewRedisStore(rdb)
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = jobStore.Ping(pingCtx)
	pingCancel()
	if err != nil {
		slog.Error("Failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	slog.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	broker := queue.NewRedisBroker(rdb)
	publisher := events.NewPublisher(rdb)

	// 3. Validate provider configuration early: a missing API key should
	// fail startup, not the first job.
	providerFactory := func() (provider.Provider, error) {
		return provider.NewOpenAI(&cfg.Provider)
	}
	if _, err := providerFactory(); err != nil {
		slog.Error("Failed to initialize LLM provider", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM provider configured",
		"provider", cfg.Provider.Name, "model", cfg.Provider.Model)

	// 4. Domain services
	jobService := services.NewJobService(jobStore, broker, publisher, cfg.Redis.JobTTL)

	// 5. Start worker pool (before the HTTP server)
	executor := queue.NewExecutor(jobStore, publisher, providerFactory, &cfg.Engine)
	workerPool := queue.NewWorkerPool(podID, jobStore, broker, &cfg.Queue, cfg.Redis.JobTTL, executor, publisher)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 6. Create and start the HTTP server (non-blocking)
	httpServer := api.NewServer(&cfg.Server, jobService, workerPool, workerPool,
		api.NewRedisEventSource(rdb), version.Full())

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Sage started successfully",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount)

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: drain workers first so active jobs reach their
	// terminal writes, then stop the HTTP server.
	workerShutdownCtx, workerCancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer workerCancel()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-workerShutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded — incomplete jobs will be recovered by the stale scan")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

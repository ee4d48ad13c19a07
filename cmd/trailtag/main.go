// TrailTag server: analyzes YouTube travel videos into geographic routes,
// exposed as async analysis jobs with SSE progress streaming.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/trailtag/trailtag/pkg/api"
	"github.com/trailtag/trailtag/pkg/cache"
	"github.com/trailtag/trailtag/pkg/cleanup"
	"github.com/trailtag/trailtag/pkg/config"
	"github.com/trailtag/trailtag/pkg/executor"
	"github.com/trailtag/trailtag/pkg/llm"
	"github.com/trailtag/trailtag/pkg/memory"
	"github.com/trailtag/trailtag/pkg/services"
	"github.com/trailtag/trailtag/pkg/tools"
	"github.com/trailtag/trailtag/pkg/version"
	"github.com/trailtag/trailtag/pkg/webhook"
	"github.com/trailtag/trailtag/pkg/workflow"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Load .env before anything reads the environment, including the
	// config flag's default below.
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	} else {
		slog.Info("Loaded environment", "path", ".env")
	}

	configPath := flag.String("config",
		getEnv("TRAILTAG_CONFIG", config.DefaultConfigPath),
		"Path to the configuration file")
	flag.Parse()

	slog.Info("Starting TrailTag", "version", version.Full(), "config", *configPath)

	ctx := context.Background()

	// 1. Initialize configuration and logging
	cfg, err := config.Initialize(*configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Logging.SlogLevel(),
	})))
	gin.SetMode(gin.ReleaseMode)

	// 2. Open the memory layer and pick the cache backend
	mem := memory.NewManager(cfg.Storage.Dir)

	var backend cache.Store
	if cfg.Cache.Backend == config.CacheBackendRedis {
		redisStore, err := cache.NewRedisStore(cfg.Cache.Redis)
		if err != nil {
			slog.Error("Failed to connect to Redis cache", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisStore.Close(); err != nil {
				slog.Error("Error closing Redis client", "error", err)
			}
		}()
		backend = redisStore
	} else {
		backend = cache.NewMemoryStore(mem.Store())
	}
	records := cache.New(backend, cfg.Cache.Prefix)

	// 3. Webhook notifier (nil and inert when no endpoints are configured)
	hooks := webhook.NewNotifier(cfg.Webhooks, records)

	// 4. Executor, tools and the analysis workflow
	runner := executor.New(records, mem, cfg.Executor.MaxConcurrentJobs, cfg.Executor.QueueSize)

	youtube := tools.NewYouTubeClient(records)
	geocoder := tools.NewGeocoder(cfg.Geocode)
	chat := llm.NewOpenAIClient(cfg.LLM)
	pipeline := workflow.NewDefaultPipeline(youtube, geocoder, chat, cfg.Workflow)

	registry := services.NewJobRegistry(records)
	driver := workflow.NewDriver(registry, mem, pipeline, hooks)
	service := services.NewAnalysisService(registry, runner, youtube, driver, hooks, cfg.Workflow.SearchSubject)
	slog.Info("Services initialized")

	// 5. Retention sweeper (no-op when cleanup.enabled is false)
	sweeper := cleanup.NewService(cfg.Cleanup, mem.Store())
	sweeper.Start(ctx)

	// 6. Start HTTP server (non-blocking)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: api.NewServer(service, records, hooks, cfg.SSE).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("TrailTag started successfully",
		"addr", cfg.Server.Addr(),
		"cache_backend", cfg.Cache.Backend,
		"max_concurrent_jobs", cfg.Executor.MaxConcurrentJobs)

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: stop accepting requests, stop the sweeper, then
	// drain running jobs and in-flight webhook deliveries.
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	sweeper.Stop()

	execCtx, execCancel := context.WithTimeout(ctx, cfg.Executor.ShutdownTimeout.Duration)
	defer execCancel()
	runner.Shutdown(execCtx)

	hookCtx, hookCancel := context.WithTimeout(ctx, 5*time.Second)
	defer hookCancel()
	hooks.Shutdown(hookCtx)

	slog.Info("Shutdown complete")
}

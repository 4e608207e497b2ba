// Fathom server: multi-agent deep-research orchestration engine with an
// SSE streaming API, checkpoint persistence, and redis-backed cancellation.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fathom-research/fathom/pkg/api"
	"github.com/fathom-research/fathom/pkg/cancel"
	"github.com/fathom-research/fathom/pkg/checkpoint"
	"github.com/fathom-research/fathom/pkg/config"
	"github.com/fathom-research/fathom/pkg/database"
	"github.com/fathom-research/fathom/pkg/llm"
	"github.com/fathom-research/fathom/pkg/orchestrator"
	"github.com/fathom-research/fathom/pkg/sandbox"
	"github.com/fathom-research/fathom/pkg/search"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("FATHOM_CONFIG", "./fathom.yaml"),
		"Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if key := os.Getenv("SEARCH_API_KEY"); key != "" {
		cfg.Search.APIKey = key
	}

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Redis (cancellation flags)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Error("Failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	slog.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	// 4. Adapters and stores
	llmClient := llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
		llm.WithDefaults(cfg.LLM.Temperature, cfg.LLM.MaxTokens),
		llm.WithTimeout(time.Duration(cfg.LLM.TimeoutSeconds)*time.Second))
	searchClient := search.NewHTTPClient(cfg.Search.Endpoint, cfg.Search.APIKey, cfg.Search.Timeout())
	runner := sandbox.NewRunner(cfg.Sandbox.PythonBin, cfg.Sandbox.Timeout())
	store := checkpoint.NewSQLStore(dbClient.DB())
	signal_ := cancel.NewRedisSignal(redisClient)

	factory := &orchestrator.Factory{
		LLM:                  llmClient,
		Search:               searchClient,
		Runner:               runner,
		Store:                store,
		Signal:               signal_,
		ModelFor:             cfg.LLM.ModelFor,
		SectionConcurrency:   cfg.Research.SectionConcurrency,
		MaxSearchDepth:       cfg.Research.MaxSearchDepth,
		QueueCapacity:        cfg.Research.QueueCapacity,
		DefaultMaxIterations: cfg.Research.MaxIterations,
	}

	// 5. HTTP server
	httpServer := api.NewServer(factory, store, signal_, dbClient, redisClient)
	httpPort := getEnv("HTTP_PORT", strconv.Itoa(cfg.HTTP.Port))

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Fathom started",
		"model", cfg.LLM.Model,
		"max_iterations", cfg.Research.MaxIterations)

	// 6. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown: in-flight streams get a short grace period;
	// interrupted runs are resumable from their last checkpoint.
	shutdownCtx, cancelShutdown := context.WithTimeout(ctx, 15*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}

// Vigia orchestrator server: HTTP API, queue workers and the
// multi-agent investigation pipeline over Brazilian public-transparency
// sources.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/cidadao-ai/vigia/pkg/agent"
	"github.com/cidadao-ai/vigia/pkg/api"
	"github.com/cidadao-ai/vigia/pkg/cache"
	"github.com/cidadao-ai/vigia/pkg/cleanup"
	"github.com/cidadao-ai/vigia/pkg/config"
	"github.com/cidadao-ai/vigia/pkg/coordinator"
	"github.com/cidadao-ai/vigia/pkg/database"
	"github.com/cidadao-ai/vigia/pkg/federation"
	"github.com/cidadao-ai/vigia/pkg/llm"
	"github.com/cidadao-ai/vigia/pkg/memory"
	"github.com/cidadao-ai/vigia/pkg/planner"
	"github.com/cidadao-ai/vigia/pkg/queue"
	"github.com/cidadao-ai/vigia/pkg/registry"
	"github.com/cidadao-ai/vigia/pkg/resilience"
	"github.com/cidadao-ai/vigia/pkg/router"
	"github.com/cidadao-ai/vigia/pkg/services"
	"github.com/cidadao-ai/vigia/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica
// coordination. Priority: POD_ID env > HOSTNAME env > "local".
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
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	podID := resolvePodID()
	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting vigia",
		"version", version.Full(),
		"pod_id", podID,
		"config_dir", *configDir,
		"demo_mode", cfg.Federation.DemoMode)

	// 2. Persistence: PostgreSQL normally, in-memory in demo mode.
	var (
		dbClient      *database.Client
		invStore      services.InvestigationStore
		episodicStore services.EpisodicStore
		eventStore    services.EventStore
	)
	if cfg.Federation.DemoMode {
		invStore = services.NewInMemoryInvestigationStore()
		episodicStore = services.NewInMemoryEpisodicStore()
		eventStore = services.NewInMemoryEventStore()
		slog.Info("Demo mode: using in-memory persistence")
	} else {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbClient.Close()
		slog.Info("Connected to PostgreSQL database")

		invStore = services.NewPostgresInvestigationStore(dbClient.Pool())
		episodicStore = services.NewPostgresEpisodicStore(dbClient.Pool())
		eventStore = services.NewPostgresEventStore(dbClient.Pool())
	}

	investigations := services.NewInvestigationService(invStore)
	memoryService := services.NewMemoryService(episodicStore, cfg.Retention.EpisodicRetentionDays)
	eventService := services.NewEventService(eventStore)

	// 3. Cache: in-process LRU, layered over Redis when configured.
	var redisClient *redis.Client
	memStore := cache.NewMemoryStore(cfg.Cache.MemorySize)
	var cacheStore cache.Store = cache.NewLayered(memStore, nil)
	if cfg.Cache.BackendURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.BackendURL)
		if err != nil {
			slog.Error("Invalid cache backend URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		cacheStore = cache.NewLayered(memStore, cache.NewRedisStore(redisClient))
		slog.Info("Cache backend connected")
	}

	// 4. Source registry and federation executor.
	sources, err := registry.New(registry.BuiltinSources(), resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureWindow:    cfg.Breaker.Window,
		Cooldown:         cfg.Breaker.Cooldown,
	})
	if err != nil {
		slog.Error("Failed to build source registry", "error", err)
		os.Exit(1)
	}

	var fetcher federation.Fetcher
	if cfg.Federation.DemoMode {
		fetcher = federation.NewDemoFetcher(25)
	} else {
		fetcher = federation.NewHTTPFetcher(cfg.Federation.FetchTimeout, cfg.Federation.TransparencyKey)
	}
	fetcher = federation.NewCachedFetcher(fetcher, cacheStore, cfg.Cache.DefaultTTL)

	executor := federation.NewExecutor(sources, fetcher, federation.Config{
		FetchTimeout: cfg.Federation.FetchTimeout,
		Retry: resilience.RetryConfig{
			MaxAttempts:   cfg.Federation.RetryAttempts,
			InitialDelay:  cfg.Federation.RetryBaseDelay,
			MaxDelay:      cfg.Federation.RetryMaxDelay,
			BackoffFactor: 2,
			Jitter:        true,
		},
	})

	// 5. LLM backend: optional; without it the rule classifier and the
	// template reporter run alone.
	var llmClient llm.Client
	if cfg.LLM.Provider != "" {
		llmClient = llm.NewHTTPClient(llm.ProviderConfig{
			Name:      cfg.LLM.Provider,
			Endpoint:  cfg.LLM.Endpoint,
			Model:     cfg.LLM.Model,
			APIKeyEnv: cfg.LLM.APIKeyEnv,
		}, nil, map[string]string{cfg.LLM.Provider: os.Getenv(cfg.LLM.APIKeyEnv)}, 30*time.Second)
		slog.Info("LLM client initialized", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	}

	var classifier planner.Classifier = planner.RuleClassifier{}
	if llmClient != nil {
		classifier = &planner.LLMClassifier{Client: llmClient, Fallback: planner.RuleClassifier{}}
	}
	plan := planner.New(classifier, cfg.Federation.FetchTimeout)

	// 6. Agent pool and router.
	var semanticStore memory.SemanticStore
	if redisClient != nil {
		semanticStore = memory.NewRedisStore(redisClient, nil)
	} else {
		semanticStore = memory.NewInMemoryStore(nil)
	}

	pool := agent.NewPool(cfg.Agents.MaxPerType)
	pool.Register("communicator", func() agent.Agent { return agent.NewCommunicator() })
	pool.Register("detective", func() agent.Agent { return agent.NewDetective() })
	pool.Register("analyst", func() agent.Agent { return agent.NewAnalyst() })
	pool.Register("reporter", func() agent.Agent { return agent.NewReporter(llmClient) })
	pool.Register("memory", func() agent.Agent { return agent.NewMemoryAgent(semanticStore) })
	defer pool.Shutdown(context.Background())

	runtimeCfg := agent.RuntimeConfig{
		ConfidenceThreshold: cfg.Agents.ConfidenceThreshold,
		MaxReflectionCycles: cfg.Agents.ReflectionCycles,
		ProcessTimeout:      cfg.Agents.ProcessTimeout,
	}
	dispatch := router.New(pool, runtimeCfg)

	// 7. Coordinator and worker pool.
	workingContext := memory.NewWorkingContext(0, 0)
	coord := coordinator.New(coordinator.Config{
		InvestigationTimeout: cfg.Investigation.Timeout,
		TextChunkWords:       cfg.Stream.TextChunkWords,
	}, plan, executor, dispatch, investigations, memoryService, eventService, workingContext)

	workers := queue.NewWorkerPool(podID, cfg.Queue, investigations, coord)
	if err := workers.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 8. Retention cleanup loop.
	retention := cleanup.NewService(cfg.Retention, memoryService, eventService)
	retention.Start(ctx)
	defer retention.Stop()

	// 9. HTTP server.
	server := api.NewServer(cfg, dbClient, investigations, memoryService, eventService, coord, pool, sources, workers)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Vigia started successfully", "pod_id", podID, "workers", cfg.Queue.Workers)

	// 10. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: workers first (they finish in-flight
	// investigations), then the HTTP listener.
	shutdownCtx, cancelShutdown := context.WithTimeout(ctx, 30*time.Second)
	defer cancelShutdown()

	done := make(chan struct{})
	go func() {
		workers.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, incomplete investigations will be orphan-recovered")
	}

	httpCtx, cancelHTTP := context.WithTimeout(ctx, 5*time.Second)
	defer cancelHTTP()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

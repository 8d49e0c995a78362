package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lyzr/ragflow/cmd/workflow-engine/handlers"
	"github.com/lyzr/ragflow/cmd/workflow-engine/nodes"
	"github.com/lyzr/ragflow/cmd/workflow-engine/recovery"
	"github.com/lyzr/ragflow/cmd/workflow-engine/resolver"
	"github.com/lyzr/ragflow/cmd/workflow-engine/routes"
	"github.com/lyzr/ragflow/cmd/workflow-engine/runtime"
	"github.com/lyzr/ragflow/cmd/workflow-engine/sandbox"
	"github.com/lyzr/ragflow/cmd/workflow-engine/scheduler"
	"github.com/lyzr/ragflow/common/config"
	"github.com/lyzr/ragflow/common/expr"
	"github.com/lyzr/ragflow/common/logger"
	"github.com/lyzr/ragflow/common/metrics"
	"github.com/lyzr/ragflow/common/middleware"
	"github.com/lyzr/ragflow/common/providers"
	"github.com/lyzr/ragflow/common/ratelimit"
	"github.com/lyzr/ragflow/common/server"
	"github.com/lyzr/ragflow/common/store"
	"github.com/lyzr/ragflow/common/telemetry"
	"github.com/lyzr/ragflow/common/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "workflow-engine failed to start: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load("workflow-engine")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	registry := prometheus.NewRegistry()
	monitor := metrics.NewMonitor(registry)
	alerts := metrics.NewAlertEvaluator(monitor)

	set, err := buildProviders(ctx, cfg, log)
	if err != nil {
		return err
	}

	validator, err := workflow.NewValidator()
	if err != nil {
		return fmt.Errorf("validator: %w", err)
	}

	conditions, err := expr.NewConditionEvaluator()
	if err != nil {
		return fmt.Errorf("condition evaluator: %w", err)
	}
	transforms := expr.NewTransformEvaluator()
	res := resolver.New(conditions, transforms, log)

	sb := sandbox.New(cfg.Sandbox, log)
	nodeRegistry := nodes.NewRegistry(set, sb, log)

	breakers := recovery.NewBreakerManager(cfg.Recovery.CircuitBreakerThreshold, cfg.Recovery.CircuitBreakerTimeout, set.Clock)
	history := recovery.NewErrorHistory(cfg.Recovery.ErrorHistorySize)
	handler := recovery.NewHandler(breakers, history, set.Clock, log)
	handler.SetMaxAttempts(cfg.Recovery.MaxHandlerAttempts)

	pool := scheduler.NewResourcePool(cfg.Pool)
	sched := scheduler.New(pool, monitor, set.Clock, cfg.Engine, cfg.Pool, log)

	engine := runtime.New(cfg, validator, res, nodeRegistry, handler, sched, monitor, alerts, set, log)

	components := &handlers.Components{
		Config:      cfg,
		Engine:      engine,
		Definitions: store.NewDefinitionStore(),
		Validator:   validator,
		Log:         log,
	}

	if cfg.Redis.Enabled {
		redisStore, err := store.NewRedisStore(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisStore.Close()
		components.Executions = redisStore
		components.Limiter = ratelimit.New(redisStore.Client(), log)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.CORS())
	e.Use(middleware.GlobalRateLimit(components.Limiter))

	routes.Register(e, components, registry)

	telemetry.New(cfg.Telemetry, log).Start()

	log.Info("workflow-engine starting",
		"port", cfg.Service.Port,
		"parallel", cfg.Engine.EnableParallel,
		"max_workers", cfg.Engine.MaxWorkers)

	// SSE responses stream past any fixed write deadline
	return server.New(cfg.Service.Name, cfg.Service.Port, e, true, log).Run()
}

// buildProviders wires the provider set: OpenAI-backed chat and embeddings
// when an API key is configured, local in-memory retrieval backends, and
// the Postgres archive when enabled.
func buildProviders(ctx context.Context, cfg *config.Config, log *logger.Logger) (*providers.Set, error) {
	set := &providers.Set{
		Identity: providers.AllowAllIdentity{},
		Rerank:   providers.LexicalReranker{},
		Vector:   providers.NewMemoryVectorStore(),
		Keyword:  providers.NewMemoryKeywordIndex(),
		Clock:    providers.SystemClock{},
	}

	if cfg.OpenAI.APIKey != "" {
		openai := providers.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.ChatModel, cfg.OpenAI.EmbeddingModel)
		set.Chat = openai
		set.Embeddings = openai
	} else {
		log.Warn("OPENAI_API_KEY not set, llm and embedding nodes will fail at runtime")
	}

	if cfg.Database.Enabled {
		archive, err := store.NewPostgresArchive(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		set.Persistence = archive
	}

	return set, nil
}

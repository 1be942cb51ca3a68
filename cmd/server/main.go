// Package main wires the workflow execution core: storage, the
// dependency/context/engine trio, the three task services, the
// subdivision service, and the REST API, then serves until a signal.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smilemakc/workflow-core/internal/application/dependency"
	"github.com/smilemakc/workflow-core/internal/application/engine"
	"github.com/smilemakc/workflow-core/internal/application/observer"
	"github.com/smilemakc/workflow-core/internal/application/reaper"
	"github.com/smilemakc/workflow-core/internal/application/subdivision"
	"github.com/smilemakc/workflow-core/internal/application/tasks/agent"
	"github.com/smilemakc/workflow-core/internal/application/tasks/human"
	"github.com/smilemakc/workflow-core/internal/config"
	"github.com/smilemakc/workflow-core/internal/domain"
	"github.com/smilemakc/workflow-core/internal/infrastructure/api/rest"
	"github.com/smilemakc/workflow-core/internal/infrastructure/cache"
	"github.com/smilemakc/workflow-core/internal/infrastructure/logger"
	"github.com/smilemakc/workflow-core/internal/infrastructure/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.Logging)
	logger.SetDefault(appLogger)

	appLogger.Info("starting workflow-core server", "port", cfg.Server.Port)

	db, err := storage.NewDB(&storage.Config{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MinConnections,
		ConnMaxLifetime: cfg.Database.MaxConnLifetime,
		ConnMaxIdleTime: cfg.Database.MaxIdleTime,
		Debug:           cfg.Logging.Level == "debug",
	})
	if err != nil {
		appLogger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer storage.Close(db)
	appLogger.Info("database connected", "max_conns", cfg.Database.MaxConnections)

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		appLogger.Warn("redis cache unavailable, running without current-version cache", "error", err)
		redisCache = nil
	} else {
		defer redisCache.Close()
		appLogger.Info("redis cache connected")
	}

	// Repositories.
	rawWorkflowRepo := storage.NewWorkflowRepository(db)
	instanceRepo := storage.NewInstanceRepository(db)
	processorRepo := storage.NewProcessorRepository(db)
	simulatorRepo := storage.NewSimulatorRepository(db)
	subdivisionRepo := storage.NewSubdivisionRepository(db)

	var workflowRepo domain.WorkflowRepository = rawWorkflowRepo
	if redisCache != nil {
		workflowRepo = cache.NewCachedWorkflowRepository(rawWorkflowRepo, redisCache, 5*time.Minute)
		appLogger.Info("current-version reads cached via redis")
	}

	observerManager := observer.NewObserverManager(
		observer.WithLogger(appLogger),
		observer.WithBufferSize(cfg.Observer.BufferSize),
	)
	if cfg.Observer.EnableLogger {
		if err := observerManager.Register(observer.NewLoggerObserver(observer.WithLoggerInstance(appLogger))); err != nil {
			appLogger.Warn("failed to register logger observer", "error", err)
		}
	}

	// Core engine trio (§4.2-4.4): dependency manager tracks readiness,
	// the engine owns the workflow context manager and dispatch.
	deps := dependency.NewManager()
	eng := engine.New(appLogger, workflowRepo, instanceRepo, deps, observerManager)

	// Task services, registered as the engine's per-kind dispatchers
	// (spec §9: narrow TaskDispatcher/NodeCompletionChecker interfaces,
	// no package imports the engine's concrete type back).
	humanService := human.New(appLogger, instanceRepo, eng)
	eng.RegisterDispatcher(domain.ProcessorKindHuman, humanService)
	// A mix processor has both a user_id and an agent_id (spec §2); its
	// human leg is the one the scheduler waits on, with the agent
	// binding carried in the task's context blob for reference, so it
	// is dispatched the same way a pure human task is.
	eng.RegisterDispatcher(domain.ProcessorKindMix, humanService)

	llmClient := agent.NewLLMClient(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	agentService := agent.New(appLogger, instanceRepo, processorRepo, simulatorRepo, eng, llmClient)
	eng.RegisterDispatcher(domain.ProcessorKindAgent, agentService)
	eng.RegisterDispatcher(domain.ProcessorKindSimulator, agentService)

	subService := subdivision.New(appLogger, instanceRepo, workflowRepo, subdivisionRepo, eng)

	// Reaper (§4.3 backstop): every config.Reaper.Schedule tick, fail
	// any RUNNING instance whose in-memory context didn't survive a
	// process restart.
	instanceReaper, err := reaper.New(appLogger, instanceRepo, eng.ContextManager(), cfg.Reaper.Schedule)
	if err != nil {
		appLogger.Error("failed to initialize reaper", "error", err)
		os.Exit(1)
	}
	instanceReaper.Start()
	defer instanceReaper.Stop()
	appLogger.Info("reaper started", "schedule", cfg.Reaper.Schedule)

	workflowHandlers := rest.NewWorkflowHandlers(workflowRepo)
	instanceHandlers := rest.NewInstanceHandlers(eng, instanceRepo)
	taskHandlers := rest.NewTaskHandlers(humanService)
	subdivisionHandlers := rest.NewSubdivisionHandlers(subService, subdivisionRepo)

	router := rest.NewRouter(&cfg.Server, appLogger, workflowHandlers, instanceHandlers, taskHandlers, subdivisionHandlers)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		appLogger.Info("http server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			appLogger.Error("server error", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdown:
		appLogger.Info("shutdown initiated", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			appLogger.Error("graceful shutdown failed", "error", err)
			if closeErr := server.Close(); closeErr != nil {
				appLogger.Error("server close failed", "error", closeErr)
			}
		}
		appLogger.Info("server stopped")
	}
}

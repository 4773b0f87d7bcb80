package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/vault-mind/internal/api"
	"github.com/nidhogg/vault-mind/internal/clock"
	"github.com/nidhogg/vault-mind/internal/cognition"
	"github.com/nidhogg/vault-mind/internal/config"
	"github.com/nidhogg/vault-mind/internal/events"
	"github.com/nidhogg/vault-mind/internal/plan"
	"github.com/nidhogg/vault-mind/internal/provider"
	pgstore "github.com/nidhogg/vault-mind/internal/store"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Vault Mind...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/vaultmind.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize provider router
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Extra: pc.Extra,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	if cfg.Routing.Default != "" {
		router.SetDefault(cfg.Routing.Default)
	}
	for agentID, providerID := range cfg.Routing.Bindings {
		router.Bind(agentID, providerID)
	}
	for agentID, chain := range cfg.Routing.Fallbacks {
		router.SetFallbacks(agentID, chain)
	}

	// Initialize PostgreSQL store
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
		}
	}

	// Initialize event bus
	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := events.NewBus(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without event bus", zap.Error(busErr))
		} else {
			bus = b
		}
	}

	// Build the escalation pipeline
	gen := cognition.NewLLMGenerator(router, cfg.Cognition.Model, logger)
	plans := plan.NewEngine(logger)

	pipeCfg := cognition.PipelineConfig{
		Accumulator: cognition.AccumulatorConfig{
			ReflectionThreshold: cfg.Cognition.ReflectionThreshold,
			MinEvents:           cfg.Cognition.MinEvents,
		},
		Trigger: cognition.TriggerConfig{
			MaxPerDay:        cfg.Cognition.MaxMetacognitionPerDay,
			ElapsedHours:     cfg.Cognition.MetacognitionHours,
			FailureWindow:    time.Duration(cfg.Cognition.FailureWindowHours * float64(time.Hour)),
			FailureThreshold: cfg.Cognition.FailureThreshold,
		},
		Worker: cognition.WorkerConfig{
			Pool:         cfg.Cognition.WorkerPool,
			MaxAttempts:  cfg.Cognition.MaxAttempts,
			Timeout:      time.Duration(cfg.Cognition.GenerationTimeoutSec) * time.Second,
			Backoff:      time.Duration(cfg.Cognition.BackoffSec) * time.Second,
			ContextLimit: cfg.Cognition.ContextLimit,
		},
		HighImportance: cfg.Cognition.HighImportance,
	}

	var states cognition.StateStore
	var insights cognition.InsightStore
	var outcomes cognition.OutcomeStore
	if pgStore != nil {
		states = pgStore
		insights = pgStore
		outcomes = pgStore
		plans.SetPersister(pgStore)
		plans.SetLoader(pgStore)
	}

	pipeline := cognition.NewPipeline(states, insights, outcomes, plans, gen, pipeCfg, logger)
	if bus != nil {
		pipeline.SetEventSink(bus)
	}
	pipeline.Start()

	// World clock and trigger sweeper
	worldClock := clock.New(time.Duration(cfg.Clock.TickSeconds)*time.Second, cfg.Clock.Speed, logger)
	sweeper := clock.NewSweeper(
		time.Duration(cfg.Clock.SweepMinutes)*time.Minute,
		func(ctx context.Context, agentID string, now time.Time) error {
			_, err := pipeline.CheckTrigger(ctx, agentID, now)
			return err
		},
		pipeline.Agents,
		logger,
	)
	worldClock.AddListener(sweeper)
	worldClock.Start()

	// Build HTTP handler
	handler := api.NewHandler(pipeline, worldClock, sweeper, router, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Vault Mind listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	worldClock.Stop()
	pipeline.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if bus != nil {
		if err := bus.Close(); err != nil {
			logger.Warn("event bus close failed", zap.Error(err))
		}
	}
	if pgStore != nil {
		pgStore.Close()
	}
	logger.Info("Vault Mind stopped")
}

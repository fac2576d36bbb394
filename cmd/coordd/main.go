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
	"go.uber.org/zap"

	"github.com/virelang/coordination/internal/agents"
	"github.com/virelang/coordination/internal/api"
	"github.com/virelang/coordination/internal/bus"
	"github.com/virelang/coordination/internal/config"
	"github.com/virelang/coordination/internal/curator"
	"github.com/virelang/coordination/internal/planner"
	"github.com/virelang/coordination/internal/relay"
	"github.com/virelang/coordination/internal/schema"
	pgstore "github.com/virelang/coordination/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting coordination core...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/coordination.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded",
		zap.String("path", cfgPath),
		zap.String("validator_mode", cfg.Bus.ValidatorMode),
		zap.Int("planner_period", cfg.Planner.Period))

	ctx := context.Background()

	// Durable log: PostgreSQL when configured, in-memory otherwise.
	var logStore curator.Store
	var pg *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		pg, err = pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if err != nil {
			logger.Fatal("PostgreSQL unavailable", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		logStore = pg
	} else {
		logger.Warn("no postgres DSN configured, running with in-memory log")
		logStore = curator.NewMemStore()
	}

	// Bus with the configured schema gate.
	gate, err := schema.NewGate(cfg.Bus.ValidatorMode, schema.CoreRegistry())
	if err != nil {
		logger.Fatal("invalid validator mode", zap.Error(err))
	}
	agentBus := bus.New(gate, logger)

	// Curator hears everything, including audit records.
	cur := curator.New(logStore, logger)
	cur.SubscribeAll(agentBus)

	// Planner with its reward policy.
	policy, err := cfg.RewardPolicy()
	if err != nil {
		logger.Fatal("invalid reward policy", zap.Error(err))
	}
	if _, err := planner.New(agentBus, policy, cfg.Planner.Period, logger); err != nil {
		logger.Fatal("planner init failed", zap.Error(err))
	}

	// Peripheral agents.
	agents.NewCritic(agentBus, logger)
	agents.NewBridge(agentBus, cfg.Bridge.PromotionThreshold, logger)
	agents.NewLanguage(agentBus, logger)
	agents.NewPerception(agentBus, logger)

	// Optional Redis relay for live dashboards.
	if cfg.Database.Redis.URL != "" {
		rl, rErr := relay.New(ctx, cfg.Database.Redis.URL, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, running without relay", zap.Error(rErr))
		} else {
			rl.Tap(agentBus)
			defer rl.Close()
			logger.Info("Redis relay attached", zap.String("stream", relay.Stream))
		}
	}

	// HTTP API over the curator views.
	handler := api.NewHandler(agentBus, cur, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}
	go func() {
		logger.Info("API listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := cur.Close(shutdownCtx); err != nil {
		logger.Error("curator close", zap.Error(err))
	}
	if pg != nil {
		pg.Close()
	}
	logger.Info("Coordination core stopped")
}

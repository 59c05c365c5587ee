package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/hass-agent/internal/auth"
	"github.com/af-corp/hass-agent/internal/config"
	"github.com/af-corp/hass-agent/internal/conversation"
	"github.com/af-corp/hass-agent/internal/entries"
	"github.com/af-corp/hass-agent/internal/hass"
	"github.com/af-corp/hass-agent/internal/llm"
	"github.com/af-corp/hass-agent/internal/policy"
	"github.com/af-corp/hass-agent/internal/probe"
	"github.com/af-corp/hass-agent/internal/prompt"
	"github.com/af-corp/hass-agent/internal/server"
	"github.com/af-corp/hass-agent/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the configuration")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
	}

	// Bootstrap logger until the configured one is known.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger = newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	ctx := context.Background()

	// Config entry storage
	var store entries.Store
	if cfg.Database.Enabled() {
		poolCfg, err := cfg.Database.PoolConfig()
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(1)
		}
		dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("database not reachable", "error", err)
			os.Exit(1)
		}
		logger.Info("database connected")

		store = entries.NewPostgresStore(dbPool, connectRedis(ctx, cfg.Redis, logger), logger)
	} else {
		logger.Warn("no database configured, config entries are kept in memory")
		store = entries.NewMemoryStore()
	}

	if n, err := entries.Seed(ctx, store, cfg.Entries, logger); err != nil {
		logger.Error("failed to seed config entries", "error", err)
		os.Exit(1)
	} else if n > 0 {
		logger.Info("config entries seeded", "count", n)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	// Entity exposure policy
	exposure := policy.NewEvaluator(func() config.ExposureConfig {
		return loader.Config().Exposure
	}, logger)
	if err := exposure.Load(); err != nil {
		logger.Error("failed to load exposure policies", "error", err)
		os.Exit(1)
	}

	// Conversation agents
	contextBuilder := hass.NewBuilder(hass.NewClient(cfg.Hass), exposure, cfg.Agent.ContextEntityLimit, logger)
	registry := conversation.NewRegistry(conversation.Deps{
		Context:  contextBuilder,
		Sender:   llm.NewClient(),
		Composer: prompt.NewComposer(prompt.NewEstimator()),
		Metrics:  metrics,
		Logger:   logger,
	}, cfg.Agent)
	defer registry.CloseAll()

	handler := server.NewHandler(registry, store, version, logger)
	n, err := handler.SetupAll(ctx)
	if err != nil {
		logger.Error("failed to load config entries", "error", err)
		os.Exit(1)
	}
	logger.Info("conversation agents ready", "count", n)

	tokens := auth.NewTokenSet(cfg.Auth.TokenHashes)
	if !tokens.Enabled() {
		logger.Warn("no access tokens configured, the API is unauthenticated")
	}

	loader.OnReload(func(next *config.Config) {
		contextBuilder.SetReader(hass.NewClient(next.Hass))
		contextBuilder.SetLimit(next.Agent.ContextEntityLimit)
		tokens.Replace(next.Auth.TokenHashes)
		if err := exposure.Load(); err != nil {
			logger.Error("exposure policy reload failed", "error", err)
		}
		for id, err := range registry.ReloadAll(next.Agent) {
			logger.Error("agent reload failed", "entry_id", id, "error", err)
		}
		logger.Info("configuration reloaded")
	})

	stopWatch, err := loader.Watch()
	if err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	} else {
		defer stopWatch()
	}

	// Health probe
	health := probe.NewServer()
	go func() {
		if err := health.ListenAndServe(cfg.Probe.Address); err != nil {
			logger.Error("health probe stopped", "error", err)
		}
	}()

	r := server.NewRouter(handler, tokens, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("agent service starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()
	health.SetServing(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	health.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	health.Stop()
	logger.Info("agent service stopped")
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) *redis.Client {
	if len(cfg.Addresses) == 0 || cfg.Addresses[0] == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addresses[0],
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable (entry cache disabled)", "error", err)
		rdb.Close()
		return nil
	}
	logger.Info("redis connected")
	return rdb
}

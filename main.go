package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tv-bybit-middleware/config"
	"tv-bybit-middleware/internal/api"
	"tv-bybit-middleware/internal/bybit"
	"tv-bybit-middleware/internal/cache"
	"tv-bybit-middleware/internal/dedup"
	"tv-bybit-middleware/internal/engine"
	"tv-bybit-middleware/internal/events"
	"tv-bybit-middleware/internal/guard"
	"tv-bybit-middleware/internal/logging"
	"tv-bybit-middleware/internal/orders"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(cfg.Logging.Level, cfg.Logging.JSONFormat)
	logger.Info().Msg("Structured logging initialized")

	// Initialize event bus
	eventBus := events.NewEventBus()
	logger.Info().Msg("Event bus initialized")

	// Pick the gateway: a real signed client, or the in-memory mock for
	// dry runs without venue credentials
	var gateway bybit.Gateway
	if cfg.Bybit.MockMode {
		mock := bybit.NewMockGateway(10000)
		mock.SetFilters(bybit.InstrumentFilters{
			Symbol:   "BTCUSDT",
			TickSize: 0.1,
			LotStep:  0.001,
			MinQty:   0.001,
		})
		mock.SetLastPrice("BTCUSDT", 50000)
		gateway = mock
		logger.Warn().Msg("MOCK MODE enabled, no orders reach the venue")
	} else {
		baseURL := cfg.Bybit.BaseURL
		if baseURL == "" {
			if cfg.Bybit.TestNet {
				baseURL = bybit.TestnetURL
			} else {
				baseURL = bybit.BaseURL
			}
		}
		gateway = bybit.NewClient(cfg.Bybit.APIKey, cfg.Bybit.SecretKey, baseURL, logger)
		logger.Info().Str("base_url", baseURL).Msg("Bybit client initialized")
	}

	// Daily loss guard, fed by live account equity
	lossGuard := guard.New(gateway.GetEquity, time.Now, logger)
	lossGuard.Configure(guard.Limits{
		Enabled:  cfg.Guard.Enabled,
		LimitPct: cfg.Guard.LimitPct,
		LimitUsd: cfg.Guard.LimitUsd,
	})
	if cfg.Guard.Enabled {
		logger.Info().Msg("Daily loss guard enabled at startup")
	}

	// Duplicate-alert suppression and per-symbol entry cooldown
	limiter := dedup.New(cfg.Engine.DedupWindow, cfg.Engine.EntryCooldown, time.Now)

	// Redis-backed daily sequence for correlation link ids; falls back to
	// random ids when Redis is unavailable
	var cacheService *cache.CacheService
	if cfg.Redis.Enabled {
		cacheService = cache.NewCacheService(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, logger)
		defer cacheService.Close()
	}
	linkIDs := orders.NewLinkIDGenerator(cacheService, time.Now, logger)

	// Bracket execution engine
	eng := engine.New(gateway, lossGuard, limiter, linkIDs, eventBus, engine.Config{
		TP1SharePct:      cfg.Engine.TP1SharePct,
		FillPollAttempts: cfg.Engine.FillPollAttempts,
		FillPollInterval: cfg.Engine.FillPollInterval,
	}, logger)
	logger.Info().
		Float64("tp1_share_pct", cfg.Engine.TP1SharePct).
		Int("fill_poll_attempts", cfg.Engine.FillPollAttempts).
		Msg("Execution engine initialized")

	// HTTP API server
	server := api.NewServer(api.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		SharedSecret:   cfg.Server.SharedSecret,
		ProductionMode: cfg.Server.ProductionMode,
	}, eng, lossGuard, eventBus, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	logger.Info().Msg("Shutdown complete")
}

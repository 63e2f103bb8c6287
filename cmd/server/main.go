package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/agoradebate/agora/internal/api"
	"github.com/agoradebate/agora/internal/config"
	"github.com/agoradebate/agora/internal/domain"
	"github.com/agoradebate/agora/internal/metrics"
	"github.com/agoradebate/agora/internal/observability"
	"github.com/agoradebate/agora/internal/readings"
	"github.com/agoradebate/agora/internal/readings/gemini"
	"github.com/agoradebate/agora/internal/repository"
	"github.com/agoradebate/agora/internal/repository/memory"
	"github.com/agoradebate/agora/internal/repository/redis"
	"github.com/agoradebate/agora/internal/store"
)

func main() {
	// Load .env file - try multiple locations
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := observability.Setup(cfg.Logging); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("driver", cfg.Storage.Driver).
		Msg("Starting Agora debate server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Volatile tier. With cache.optional the server degrades to an
	// in-process cache when redis is down instead of refusing to start.
	var cache domain.CacheStore
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		if !cfg.Cache.Optional {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Warn().Err(err).Msg("Redis unavailable, falling back to in-memory cache")
		cache = memory.NewCache()
	} else {
		defer redisClient.Close()
		cache = redis.NewSessionCache(redisClient)
	}

	// Durable tier
	durable, err := repository.OpenDurable(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open durable store")
	}
	defer durable.Close()

	sessions := store.New(cache, durable, store.Options{
		CacheTTL:       cfg.Cache.TTL,
		RecentFallback: cfg.Debate.RecentFallback,
		RetryBudget:    cfg.Debate.RetryBudget,
	})

	// Background reconciliation of writes the durable tier missed
	go sessions.RunRetryLoop(ctx, cfg.Debate.RetryInterval)

	// Readings
	metricsStore := metrics.NewStore(cfg.Metrics.Capacity)

	var lookup domain.ReadingLookup
	if cfg.Readings.APIKey != "" {
		geminiLookup, err := gemini.New(ctx, cfg.Readings.APIKey, cfg.Readings.Model)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Gemini lookup")
		}
		defer geminiLookup.Close()
		lookup = geminiLookup
	} else {
		log.Warn().Msg("GEMINI_API_KEY is empty, readings endpoints will report upstream unavailable")
		lookup = unavailableLookup{}
	}

	aggregator := readings.NewAggregator(lookup, readings.NewLimiter(), metricsStore, readings.Options{
		CacheTTL:      cfg.Readings.CacheTTL,
		BatchCacheTTL: cfg.Readings.BatchCacheTTL,
		CallDelay:     cfg.Readings.CallDelay,
		LookupTimeout: cfg.Readings.LookupTimeout,
		Cooldown:      cfg.Readings.Cooldown,
	})

	deps := api.Deps{
		Sessions:   sessions,
		Aggregator: aggregator,
		Metrics:    metricsStore,
	}
	if pinger, ok := durable.(interface{ Ping(ctx context.Context) error }); ok {
		deps.Ping = pinger.Ping
	}

	router := api.NewRouter(cfg, deps)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

type unavailableLookup struct{}

func (unavailableLookup) Lookup(ctx context.Context, query string) ([]domain.ReadingResult, error) {
	return nil, fmt.Errorf("no lookup backend configured: %w", domain.ErrUpstreamUnavailable)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/applerag/apple-rag-backend/internal/cache"
	"github.com/applerag/apple-rag-backend/internal/config"
	"github.com/applerag/apple-rag-backend/internal/middleware"
	"github.com/applerag/apple-rag-backend/internal/provider"
	"github.com/applerag/apple-rag-backend/internal/repository"
	"github.com/applerag/apple-rag-backend/internal/router"
	"github.com/applerag/apple-rag-backend/internal/service"
	"github.com/applerag/apple-rag-backend/internal/tools"
)

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Provider key pool, optionally backed by Redis so evicted keys stay
	// evicted across restarts.
	keys := cfg.ProviderAPIKeys
	var keyStore provider.KeyStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()

		store := repository.NewRedisKeyStore(redisClient)
		if seeded, err := store.SeedKeys(ctx, keys); err != nil {
			slog.Warn("key store unavailable, using configured keys", "error", err)
		} else {
			keys = seeded
			keyStore = store
		}
	}

	keyPool := provider.NewKeyPool(keys, keyStore)
	providerClient := provider.NewClient(cfg.ProviderBaseURL, keyPool)

	embedCache := cache.NewEmbeddingCache(cache.DefaultEmbeddingTTL())
	defer embedCache.Stop()
	embedder := service.NewCachedEmbedder(
		provider.NewEmbeddingClient(providerClient, cfg.EmbeddingModel),
		embedCache,
	)
	reranker := provider.NewRerankClient(providerClient, cfg.RerankModel)

	chunkRepo := repository.NewChunkRepo(pool)
	pageRepo := repository.NewPageRepo(pool)
	identityRepo := repository.NewIdentityRepo(pool)
	usageRepo := repository.NewUsageRepo(pool)

	searchSvc := service.NewSearchService(embedder, chunkRepo, chunkRepo, reranker)

	identityCache := cache.NewIdentityCache(cache.DefaultIdentityTTL)
	defer identityCache.Stop()
	resolver := service.NewIdentityResolver(identityRepo, identityCache)
	limiter := service.NewRateLimiter(usageRepo, cfg.WeekStartDay, cfg.WeekLocation())
	usageLogger := service.NewUsageLogger(usageRepo)

	toolServer := tools.NewServer(tools.Config{
		Searcher:        searchSvc,
		Pages:           pageRepo,
		Resolver:        resolver,
		Limiter:         limiter,
		Usage:           usageLogger,
		SubscriptionURL: cfg.SubscriptionURL,
		UpgradeURL:      cfg.UpgradeURL,
	})
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return toolServer.MCPServer()
	}, nil)

	threat := middleware.NewThreatDetector(middleware.ThreatConfig{
		MaxRequestsPerMinute: cfg.MaxRequestsPerMinute,
		WebhookURL:           cfg.ThreatWebhookURL,
	})
	defer threat.Stop()

	metricsReg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(metricsReg)

	mux := router.New(&router.Dependencies{
		DB:          pool,
		Version:     tools.Version,
		FrontendURL: cfg.FrontendURL,
		Metrics:     metrics,
		MetricsReg:  metricsReg,
		Threat:      threat,
		MCPHandler:  mcpHandler,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // MCP responses stream over SSE
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("apple-rag backend starting",
			"version", tools.Version,
			"port", cfg.Port,
			"environment", cfg.Environment,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

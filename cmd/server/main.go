// Package main is the entry point for the coreapp API server.
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

	"coreapp/internal/core/clock"
	"coreapp/internal/core/uow"
	"coreapp/internal/domain/sales"
	"coreapp/internal/infrastructure/cache"
	"coreapp/internal/infrastructure/http/ops"
	"coreapp/internal/infrastructure/storage/postgres"
	"coreapp/internal/mediator"
	"coreapp/pkg/logger"
)

const appVersion = "0.1.0"

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	log.Info("starting coreapp server")

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(mustEnv("DATABASE_URL"))
	if maxConns := getEnvInt("DB_MAX_CONNS", 0); maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	// --- Storage ---
	store := postgres.NewStore(pool, postgres.Config{
		StatementTimeout: getEnvDuration("DB_STATEMENT_TIMEOUT", 30*time.Second),
	}, log)
	postgres.RegisterTable[*sales.Sale](store, "doc_sales", "number", "comment")

	// --- Cache ---
	var cacheStore cache.Store
	if addr := getEnv("REDIS_ADDR", ""); addr != "" {
		redisStore, err := cache.NewRedisStore(cache.RedisConfig{
			Addr:     addr,
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "coreapp"),
		})
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		cacheStore = redisStore
		log.Infow("cache backed by redis", "addr", addr)
	} else {
		cacheStore = cache.NewMemoryStore(time.Minute)
		log.Warn("REDIS_ADDR not set, cache runs in process memory")
	}

	cacheSvc, err := cache.NewService(cacheStore, cache.Config{
		DisableThreshold: getEnvDuration("CACHE_DISABLE_THRESHOLD", 0),
	}, log, clock.System())
	if err != nil {
		log.Fatalw("failed to create cache service", "error", err)
	}
	defer func() { _ = cacheSvc.Close() }()

	// --- Events: committed units land in the durable outbox ---
	sink := postgres.NewOutboxSink(pool, log, clock.System())

	// --- Unit of work and mediator ---
	uows := uow.NewFactory(store, cacheSvc, sink, log, clock.System())

	authz, err := mediator.NewAuthorizer()
	if err != nil {
		log.Fatalw("failed to build authorizer", "error", err)
	}
	if expr := getEnv("CANCEL_SALE_POLICY", `user.is_admin || "manager" in user.roles`); expr != "" {
		if err := authz.SetPolicy(sales.CancelSale{}, expr); err != nil {
			log.Fatalw("invalid cancel sale policy", "error", err, "policy", expr)
		}
	}

	med, err := mediator.New(uows, mediator.Config{
		Gate:  cacheSvc,
		Cache: cacheSvc,
		Authz: authz,
	}, log, clock.System())
	if err != nil {
		log.Fatalw("failed to create mediator", "error", err)
	}

	// --- Sales ---
	salesSvc := sales.NewService(store, postgres.NewNumerator(pool), log, clock.System())
	if err := salesSvc.Register(med); err != nil {
		log.Fatalw("failed to register sales handlers", "error", err)
	}
	log.Info("sales command set registered")

	// --- Ops surface ---
	router := ops.NewRouter(ops.Config{
		Cache:   cacheSvc,
		Ready:   pool.Ping,
		Log:     log,
		Version: appVersion,
	})

	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Package main is the entry point for the coreapp background worker.
// It relays committed outbox events and keeps the outbox table tidy.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"coreapp/internal/core/clock"
	"coreapp/internal/infrastructure/storage/postgres"
	"coreapp/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting coreapp outbox worker")

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(mustEnv("DATABASE_URL")))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	relay := postgres.NewRelay(pool, postgres.RelayConfig{
		BatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 100),
		MaxRetries:   getEnvInt("OUTBOX_MAX_RETRIES", 5),
		RetryBackoff: getEnvDuration("OUTBOX_RETRY_BACKOFF", time.Minute),
	}, newLogDelivery(log), log, clock.System())

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		interval := getEnvDuration("OUTBOX_POLL_INTERVAL", 5*time.Second)
		log.Infow("outbox relay running", "interval", interval)
		if err := relay.Run(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("outbox relay stopped", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runJanitor(ctx, pool, relay, log)
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// runJanitor periodically parks exhausted messages in the DLQ and
// trims published rows past their retention.
func runJanitor(ctx context.Context, pool *pgxpool.Pool, relay *postgres.Relay, log *logger.Logger) {
	interval := getEnvDuration("OUTBOX_JANITOR_INTERVAL", time.Hour)
	retention := getEnvDuration("OUTBOX_RETENTION", 7*24*time.Hour)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := relay.MoveFailedToDLQ(ctx)
			if err != nil {
				log.Errorw("dlq sweep failed", "error", err)
			} else if moved > 0 {
				log.Infow("dead letters parked", "messages", moved)
			}

			cleanupPublished(ctx, pool, retention, log)
		}
	}
}

// cleanupPublished deletes delivered rows older than the retention
// window.
func cleanupPublished(ctx context.Context, pool *pgxpool.Pool, retention time.Duration, log *logger.Logger) {
	result, err := pool.Exec(ctx, `
		DELETE FROM sys_outbox
		WHERE status = 'published' AND published_at < NOW() - $1::interval
	`, retention)
	if err != nil {
		log.Errorw("published cleanup failed", "error", err)
		return
	}

	if result.RowsAffected() > 0 {
		log.Infow("cleaned up published events", "count", result.RowsAffected())
	}
}

// logDelivery is the default delivery target: it writes each relayed
// event to the structured log.
type logDelivery struct {
	log *logger.Logger
}

func newLogDelivery(log *logger.Logger) *logDelivery {
	return &logDelivery{log: log.WithComponent("delivery")}
}

func (d *logDelivery) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	d.log.WithContext(ctx).Infow("event delivered",
		"event_id", msg.ID.String(),
		"event_type", msg.EventType,
		"aggregate_type", msg.AggregateType,
		"aggregate_id", msg.AggregateID.String(),
		"tenant_id", msg.TenantID,
	)
	return nil
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

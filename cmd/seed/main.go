// Package main provides a CLI tool for seeding the database with demo
// sales. It drives the real command pipeline, so seeded documents get
// numbers, events and audit columns exactly like production writes.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"coreapp/internal/core/clock"
	appctx "coreapp/internal/core/context"
	"coreapp/internal/core/id"
	"coreapp/internal/core/tenant"
	"coreapp/internal/core/types"
	"coreapp/internal/core/uow"
	"coreapp/internal/domain/sales"
	"coreapp/internal/infrastructure/storage/postgres"
	"coreapp/internal/mediator"
	"coreapp/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(mustEnv("DATABASE_URL")))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("connected to database")

	store := postgres.NewStore(pool, postgres.Config{}, log)
	postgres.RegisterTable[*sales.Sale](store, "doc_sales", "number", "comment")

	sink := postgres.NewOutboxSink(pool, log, clock.System())
	uows := uow.NewFactory(store, nil, sink, log, clock.System())

	med, err := mediator.New(uows, mediator.Config{}, log, clock.System())
	if err != nil {
		log.Fatalw("failed to create mediator", "error", err)
	}

	salesSvc := sales.NewService(store, postgres.NewNumerator(pool), log, clock.System())
	if err := salesSvc.Register(med); err != nil {
		log.Fatalw("failed to register sales handlers", "error", err)
	}

	tenantID := getEnv("SEED_TENANT", "demo")
	ctx = tenant.WithTenantID(ctx, tenantID)
	ctx = appctx.WithUser(ctx, &appctx.UserContext{
		UserID:   "seed",
		TenantID: tenantID,
		Roles:    []string{"manager"},
	})

	customers := []id.ID{id.New(), id.New(), id.New()}
	products := []id.ID{id.New(), id.New(), id.New(), id.New()}

	lineTemplates := []struct {
		qty   string
		price string
	}{
		{"1", "149.90"},
		{"2", "19.99"},
		{"0.5", "7.30"},
		{"10", "2.45"},
		{"3", "64.00"},
	}
	comments := []string{
		"walk-in order",
		"phone order",
		"monthly restock",
		"web checkout",
	}

	count := getEnvInt("SEED_SALES", 10)
	currencyID := id.New()

	for i := 0; i < count; i++ {
		cmd := sales.RecordSale{
			CustomerID: customers[i%len(customers)],
			CurrencyID: currencyID,
			Comment:    comments[i%len(comments)],
		}
		for l := 0; l <= i%3; l++ {
			tpl := lineTemplates[(i+l)%len(lineTemplates)]
			cmd.Lines = append(cmd.Lines, sales.RecordSaleLine{
				ProductID: products[(i+l)%len(products)],
				Quantity:  types.MustQuantity(tpl.qty),
				UnitPrice: types.MustMoney(tpl.price),
			})
		}

		res := med.Send(ctx, cmd)
		if !res.Success {
			log.Fatalw("failed to seed sale", "error", res.Err, "index", i)
		}
		sale := res.Data.(*sales.Sale)
		log.Infow("seeded sale",
			"number", sale.Number,
			"lines", len(sale.Lines),
			"total", sale.TotalAmount.String(),
		)
	}

	log.Infow("seeding completed successfully", "tenant", tenantID, "sales", count)
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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"hearth/internal/amqp"
	"hearth/internal/backend"
	"hearth/internal/config"
	applog "hearth/internal/log"
	"hearth/internal/services"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := applog.New(applog.Config{
		Level:     applog.ParseLevel(cfg.LogLevel),
		Component: applog.ComponentWorker,
	})
	applog.SetDefault(logger)

	logger.Info("Starting recurring-worker")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	store, err := backend.Open(backend.Config{
		Type:         backend.Type(cfg.DataBackend),
		SQLiteDBPath: cfg.SQLiteDBPath,
	}, logger.Logger)
	if err != nil {
		logger.Error("Failed to initialize storage backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer store.Close()

	var (
		events services.EventPublisher
		client *amqp.Client
	)
	if cfg.AMQPURL != "" {
		client, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without event publishing", "error", err)
			client = nil
		} else {
			defer client.Close()
			events = client
		}
	}

	txns := services.NewTransactions(store, &services.Resolver{}, nil, events)
	recurring := services.NewRecurring(store, txns, events)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Recurring processor configured",
		"interval", cfg.ScanInterval,
		"backend", cfg.DataBackend)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Catch up on startup, then tick. Each pass rescans until nothing
		// is due, so a long outage drains in one pass instead of one
		// occurrence per interval.
		runScan(ctx, recurring, logger)

		ticker := time.NewTicker(cfg.ScanInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				runScan(ctx, recurring, logger)
			}
		}
	})

	if client != nil {
		// Audit trail: every committed ledger event lands in the worker log.
		g.Go(func() error {
			return client.ConsumeWithReconnect(ctx, cfg.AMQPURL, func(ev services.Event) error {
				logger.Info("Ledger event",
					"kind", ev.Kind,
					"entity_id", ev.EntityID,
					"household_id", ev.HouseholdID,
					"occurred_at", ev.OccurredAt)
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}

// runScan processes due rules until a pass executes nothing, so multi-cycle
// backlogs (daily rules after a week down) fully drain.
func runScan(ctx context.Context, recurring *services.Recurring, logger *applog.Logger) {
	total := 0
	for {
		if ctx.Err() != nil {
			return
		}
		executed, errs := recurring.ProcessDue(ctx, time.Now())
		for _, err := range errs {
			logger.Error("Recurring rule failed", "error", err)
		}
		total += executed
		if executed == 0 {
			break
		}
	}
	logger.Info("Scan complete", "executed", total)
}

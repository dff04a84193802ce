// Command syncqueue runs one retry batch, optionally after purging old entries.
// It exits 1 when a delivery in the batch failed or failed entries with retry budget remain, 0 otherwise.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/marminbh/eventsync-svc/internal/config"
	"github.com/marminbh/eventsync-svc/internal/database"
	"github.com/marminbh/eventsync-svc/internal/logger"
	"github.com/marminbh/eventsync-svc/internal/rabbitmq"
	"github.com/marminbh/eventsync-svc/internal/service"
)

func main() {
	os.Exit(execute())
}

func execute() int {
	opts := options{}
	flag.IntVar(&opts.Limit, "limit", config.DefaultBatchLimit, "maximum entries to retry")
	flag.BoolVar(&opts.DryRun, "dry-run", false, "list eligible entries without delivering")
	flag.BoolVar(&opts.Force, "force", false, "ignore the backoff delay (retry budget still applies)")
	flag.BoolVar(&opts.Purge, "purge", false, "purge old terminal entries before retrying")
	flag.IntVar(&opts.PurgeDays, "purge-days", config.DefaultPurgeDays, "retention in days for -purge")
	logLevel := flag.String("log-level", envOrDefault("LOG_LEVEL", "info"), "log level")
	flag.Parse()

	if err := logger.Init(*logLevel); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()
	log := logger.Get()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, log); err != nil {
			logger.Error("Error closing database", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rmq *rabbitmq.Connection
	if cfg.RabbitMQ.Enabled() && cfg.RabbitMQ.DeadLetterExchange != "" {
		rmq = rabbitmq.NewConnection(&cfg.RabbitMQ, log)
		if err := rmq.Connect(ctx); err != nil {
			logger.Error("RabbitMQ unavailable, dead-letter notices go to the log only", zap.Error(err))
			rmq = nil
		} else {
			defer rmq.Close()
		}
	}

	svc := service.NewService(cfg, db, log, rmq)

	code, err := run(ctx, opts, svc.Processor, svc.Purger, os.Stdout, log)
	if err != nil {
		logger.Error("Sync queue run failed", zap.Error(err))
	}
	return code
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

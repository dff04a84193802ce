package service

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/marminbh/eventsync-svc/internal/config"
	"github.com/marminbh/eventsync-svc/internal/emitter"
	"github.com/marminbh/eventsync-svc/internal/handlers"
	"github.com/marminbh/eventsync-svc/internal/intake"
	"github.com/marminbh/eventsync-svc/internal/notify"
	"github.com/marminbh/eventsync-svc/internal/rabbitmq"
	"github.com/marminbh/eventsync-svc/internal/report"
	"github.com/marminbh/eventsync-svc/internal/retention"
	"github.com/marminbh/eventsync-svc/internal/retry"
	"github.com/marminbh/eventsync-svc/internal/scheduler"
	"github.com/marminbh/eventsync-svc/internal/synclog"
	"github.com/marminbh/eventsync-svc/internal/webhook"
)

// Service holds all application dependencies
// This eliminates global state and enables proper dependency injection
type Service struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
	RMQ    *rabbitmq.Connection

	Store     *synclog.Store
	Deliverer *webhook.Deliverer
	Emitter   *emitter.Emitter
	Notifier  notify.Notifier
	Processor *retry.Processor
	Purger    *retention.Purger
	Reports   *report.Aggregator
}

// NewService wires the pipeline; rmq may be nil when no broker is configured
func NewService(cfg *config.Config, db *gorm.DB, logger *zap.Logger, rmq *rabbitmq.Connection) *Service {
	s := &Service{
		Config: cfg,
		DB:     db,
		Logger: logger,
		RMQ:    rmq,
		Store:  synclog.NewStore(db),
	}

	s.Deliverer = webhook.NewDeliverer(cfg.Sync, logger)
	s.Emitter = emitter.New(cfg.Sync, s.Store, s.Deliverer, logger)
	s.Notifier = newNotifier(cfg, rmq, logger)
	s.Processor = retry.NewProcessor(cfg.Sync, s.Store, s.Deliverer, s.Notifier, logger)
	s.Purger = retention.NewPurger(s.Store, logger)
	s.Reports = report.NewAggregator(db, cfg.Sync)
	return s
}

func newNotifier(cfg *config.Config, rmq *rabbitmq.Connection, logger *zap.Logger) notify.Notifier {
	logNotifier := notify.NewLogNotifier(logger)
	if rmq == nil || cfg.RabbitMQ.DeadLetterExchange == "" {
		return logNotifier
	}
	return notify.Multi{
		logNotifier,
		notify.NewAMQPNotifier(rmq, cfg.RabbitMQ.DeadLetterExchange, cfg.RabbitMQ.DeadLetterRoutingKey),
	}
}

// HealthHandler builds the liveness handler
func (s *Service) HealthHandler() *handlers.HealthHandler {
	if s.RMQ == nil {
		return handlers.NewHealthHandler(s.DB, nil)
	}
	return handlers.NewHealthHandler(s.DB, s.RMQ)
}

// SyncHandler builds the operational API handler
func (s *Service) SyncHandler() *handlers.SyncHandler {
	return handlers.NewSyncHandler(s.Store, s.Reports, s.Processor, s.Emitter, s.Processor.Policy(), s.Logger)
}

// Scheduler builds the periodic retry and purge jobs
func (s *Service) Scheduler() *scheduler.Scheduler {
	sc := scheduler.New(s.Logger)
	limit := s.Config.Scheduler.BatchLimit
	days := s.Config.Scheduler.PurgeDays

	sc.Add("retry", s.Config.Scheduler.RetryInterval, func(ctx context.Context) error {
		_, err := s.Processor.ProcessBatch(ctx, retry.BatchOptions{Limit: limit})
		return err
	})
	sc.Add("purge", s.Config.Scheduler.PurgeInterval, func(ctx context.Context) error {
		_, err := s.Purger.Purge(ctx, days)
		return err
	})
	return sc
}

// Intake builds the queue consumer, or nil when no broker or queue is configured
func (s *Service) Intake() *intake.Intake {
	if s.RMQ == nil || s.Config.Intake.Queue == "" {
		return nil
	}
	return intake.New(s.Config.Intake, s.RMQ, s.Emitter, s.Logger)
}

// Package intake feeds domain events published on a queue into the emitter.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/marminbh/eventsync-svc/internal/config"
	"github.com/marminbh/eventsync-svc/internal/consumer"
	"github.com/marminbh/eventsync-svc/internal/emitter"
	"github.com/marminbh/eventsync-svc/internal/models"
)

const restartDelay = 2 * time.Second

// Broker is the part of the RabbitMQ connection the intake consumes through
type Broker interface {
	Consume(queue, consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	CancelConsumer(consumerTag string) error
}

// Emitter records and delivers one event
type Emitter interface {
	Emit(ctx context.Context, eventType, entityType, entityID string, payload any) (*models.SyncLogEntry, error)
}

// Intake consumes DomainEvent messages and emits each one
type Intake struct {
	cfg         config.IntakeConfig
	broker      Broker
	emitter     Emitter
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	consumerTag string
	started     bool
	done        chan struct{}
}

func New(cfg config.IntakeConfig, broker Broker, em Emitter, logger *zap.Logger) *Intake {
	ctx, cancel := context.WithCancel(context.Background())
	return &Intake{
		cfg:         cfg,
		broker:      broker,
		emitter:     em,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		consumerTag: fmt.Sprintf("eventsync-intake-%d", time.Now().Unix()),
		done:        make(chan struct{}),
	}
}

// Start begins consuming; the queue must already exist
func (in *Intake) Start() error {
	if in.cfg.Queue == "" {
		return fmt.Errorf("intake queue is required")
	}

	messages, err := in.subscribe()
	if err != nil {
		return err
	}
	in.started = true
	go in.run(messages)

	in.logger.Info("Intake started",
		zap.String("queue", in.cfg.Queue),
		zap.String("consumer_tag", in.consumerTag),
	)
	return nil
}

func (in *Intake) subscribe() (<-chan amqp.Delivery, error) {
	messages, err := in.broker.Consume(in.cfg.Queue, in.consumerTag, in.cfg.PrefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming from queue %s (queue may not exist): %w", in.cfg.Queue, err)
	}
	return messages, nil
}

// Stop cancels the consumer and waits for the in-flight message
func (in *Intake) Stop() error {
	in.cancel()
	if !in.started {
		return nil
	}
	err := in.broker.CancelConsumer(in.consumerTag)
	if err != nil {
		in.logger.Error("Failed to cancel intake consumer",
			zap.String("consumer_tag", in.consumerTag),
			zap.Error(err),
		)
	}
	<-in.done
	in.logger.Info("Intake stopped")
	return err
}

// run processes deliveries and resubscribes when the broker closes the channel
func (in *Intake) run(messages <-chan amqp.Delivery) {
	defer close(in.done)
	for {
		select {
		case <-in.ctx.Done():
			return
		case msg, ok := <-messages:
			if ok {
				consumer.ProcessMessage(in.ctx, in.cfg.Queue, msg, in)
				continue
			}

			in.logger.Warn("Intake channel closed, resubscribing",
				zap.String("queue", in.cfg.Queue),
			)
			messages = in.resubscribe()
			if messages == nil {
				return
			}
		}
	}
}

func (in *Intake) resubscribe() <-chan amqp.Delivery {
	for {
		select {
		case <-in.ctx.Done():
			return nil
		case <-time.After(restartDelay):
		}
		messages, err := in.subscribe()
		if err == nil {
			return messages
		}
		in.logger.Error("Failed to resubscribe intake",
			zap.String("queue", in.cfg.Queue),
			zap.Error(err),
		)
	}
}

// HandleEvent implements consumer.EventHandler.
// Malformed events are rejected; a store outage requeues; delivery failures are acknowledged
// since the entry already holds them.
func (in *Intake) HandleEvent(ctx context.Context, decoded []byte) error {
	var event models.DomainEvent
	if err := json.Unmarshal(decoded, &event); err != nil {
		return fmt.Errorf("failed to unmarshal domain event: %w", err)
	}

	entry, err := in.emitter.Emit(ctx, event.EventType, event.EntityType, event.EntityID, event.Payload)
	switch {
	case errors.Is(err, emitter.ErrInvalidEvent):
		return err
	case err != nil && entry == nil:
		return fmt.Errorf("%w: %v", consumer.ErrRequeue, err)
	case err != nil:
		in.logger.Error("Sync event recorded but its outcome was not saved",
			zap.String("sync_log_id", entry.ID.String()),
			zap.Error(err),
		)
		return nil
	case entry == nil:
		in.logger.Debug("Sync disabled, intake event dropped",
			zap.String("event_type", event.EventType),
			zap.String("entity_id", event.EntityID),
		)
		return nil
	}

	in.logger.Info("Intake event recorded",
		zap.String("sync_log_id", entry.ID.String()),
		zap.String("event_type", event.EventType),
		zap.String("status", string(entry.Status)),
		zap.Time("occurred_at", event.Timestamp),
	)
	return nil
}

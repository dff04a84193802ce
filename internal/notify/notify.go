// Package notify tells operators about entries that exhausted their retry budget.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/marminbh/eventsync-svc/internal/models"
)

// Notifier is called once, when an entry reaches its retry budget
type Notifier interface {
	NotifyExhausted(ctx context.Context, entry *models.SyncLogEntry) error
}

// Nop discards notifications
type Nop struct{}

func (Nop) NotifyExhausted(context.Context, *models.SyncLogEntry) error { return nil }

// LogNotifier writes a warning per undeliverable event
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyExhausted(_ context.Context, entry *models.SyncLogEntry) error {
	msg := models.NewDeadLetterMessage(entry)
	n.logger.Warn("Sync entry permanently failed",
		zap.String("sync_log_id", msg.SyncLogID),
		zap.String("event_type", msg.EventType),
		zap.String("entity_type", msg.EntityType),
		zap.String("entity_id", msg.EntityID),
		zap.Int("retry_count", msg.RetryCount),
		zap.String("last_error", msg.LastError),
	)
	return nil
}

// Publisher is the broker operation the AMQP notifier needs
type Publisher interface {
	PublishMessage(ctx context.Context, exchange, routingKey string, body []byte) error
}

// AMQPNotifier publishes a DeadLetterMessage to an exchange
type AMQPNotifier struct {
	publisher  Publisher
	exchange   string
	routingKey string
}

func NewAMQPNotifier(publisher Publisher, exchange, routingKey string) *AMQPNotifier {
	return &AMQPNotifier{
		publisher:  publisher,
		exchange:   exchange,
		routingKey: routingKey,
	}
}

func (n *AMQPNotifier) NotifyExhausted(ctx context.Context, entry *models.SyncLogEntry) error {
	body, err := json.Marshal(models.NewDeadLetterMessage(entry))
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter message: %w", err)
	}
	if err := n.publisher.PublishMessage(ctx, n.exchange, n.routingKey, body); err != nil {
		return fmt.Errorf("failed to publish dead letter message: %w", err)
	}
	return nil
}

// Multi fans a notification out to every notifier and joins their errors
type Multi []Notifier

func (m Multi) NotifyExhausted(ctx context.Context, entry *models.SyncLogEntry) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyExhausted(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

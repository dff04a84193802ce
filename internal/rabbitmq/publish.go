package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrNacked is returned when the broker refuses a published message
var ErrNacked = errors.New("rabbitmq: publish nacked by broker")

const (
	publishAttempts   = 3
	publishRetryDelay = 100 * time.Millisecond
)

// PublishMessage publishes a persistent JSON message and blocks until the broker confirms it
// or ctx ends. While a redial is in flight the publish is retried a few times.
func (c *Connection) PublishMessage(ctx context.Context, exchange, routingKey string, body []byte) error {
	delay := publishRetryDelay
	for attempt := 1; ; attempt++ {
		sess, err := c.current()
		if err == nil {
			return c.publish(ctx, sess, exchange, routingKey, body)
		}
		if attempt == publishAttempts {
			return fmt.Errorf("failed to publish to %s after %d attempts: %w", exchange, attempt, err)
		}

		c.logger.Debug("RabbitMQ not connected, retrying publish",
			zap.String("exchange", exchange),
			zap.Int("attempt", attempt),
		)
		if err := c.wait(ctx, delay); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", exchange, err)
		}
		delay *= 2
	}
}

func (c *Connection) publish(ctx context.Context, sess *session, exchange, routingKey string, body []byte) error {
	confirm, err := sess.publish.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			AppId:        connectionName,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", exchange, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("no confirm from %s: %w", exchange, err)
	}
	if !acked {
		return fmt.Errorf("%w: exchange %s routing key %s", ErrNacked, exchange, routingKey)
	}
	return nil
}

// EnsureExchange declares a durable exchange so publishes to it are routable
func (c *Connection) EnsureExchange(name, kind string) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	if err := sess.publish.ExchangeDeclare(name, kind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", name, err)
	}
	c.logger.Info("RabbitMQ exchange ready",
		zap.String("exchange", name),
		zap.String("kind", kind),
	)
	return nil
}

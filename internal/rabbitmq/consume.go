package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consume starts a manual-ack consumer on queue with the given prefetch limit.
// The delivery channel closes when the session is lost; callers subscribe again.
func (c *Connection) Consume(queue, consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	sess, err := c.current()
	if err != nil {
		return nil, err
	}
	if prefetch > 0 {
		if err := sess.consume.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set prefetch on %s: %w", queue, err)
		}
	}
	deliveries, err := sess.consume.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %s: %w", queue, err)
	}
	return deliveries, nil
}

// CancelConsumer stops deliveries to consumerTag. Without a session there is nothing to cancel.
func (c *Connection) CancelConsumer(consumerTag string) error {
	sess, err := c.current()
	if err != nil {
		return nil
	}
	if err := sess.consume.Cancel(consumerTag, false); err != nil {
		return fmt.Errorf("failed to cancel consumer %s: %w", consumerTag, err)
	}
	return nil
}

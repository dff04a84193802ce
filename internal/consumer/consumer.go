// Package consumer implements the service's queue message convention:
// base64-encoded JSON bodies, manual acknowledgement.
package consumer

import (
	"context"
	"encoding/base64"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/marminbh/eventsync-svc/internal/logger"
)

// ErrRequeue marks a handler failure that another delivery may fix
var ErrRequeue = errors.New("message requeued")

// EventHandler handles one decoded message body
type EventHandler interface {
	HandleEvent(ctx context.Context, decoded []byte) error
}

// Outcome is what happened to a message on the broker
type Outcome int

const (
	Acked Outcome = iota
	Rejected
	Requeued
)

func (o Outcome) String() string {
	switch o {
	case Acked:
		return "acked"
	case Rejected:
		return "rejected"
	case Requeued:
		return "requeued"
	}
	return "unknown"
}

// ProcessMessage decodes the body and hands it to the handler.
// Success ACKs; errors wrapping ErrRequeue NACK with requeue; anything else NACKs without.
func ProcessMessage(ctx context.Context, queue string, msg amqp.Delivery, handler EventHandler) Outcome {
	logger.Debug("Received message from queue",
		zap.String("queue", queue),
		zap.Uint64("delivery_tag", msg.DeliveryTag),
	)

	decoded, err := base64.StdEncoding.DecodeString(string(msg.Body))
	if err != nil {
		logger.Error("Failed to decode base64 message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		return nack(queue, msg, false)
	}

	if err := handler.HandleEvent(ctx, decoded); err != nil {
		requeue := errors.Is(err, ErrRequeue)
		logger.Error("Failed to process message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Bool("requeue", requeue),
			zap.Error(err),
		)
		return nack(queue, msg, requeue)
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		return nack(queue, msg, false)
	}

	logger.Debug("Message from queue processed",
		zap.String("queue", queue),
		zap.Uint64("delivery_tag", msg.DeliveryTag),
	)
	return Acked
}

func nack(queue string, msg amqp.Delivery, requeue bool) Outcome {
	if err := msg.Nack(false, requeue); err != nil {
		// the broker redelivers unacknowledged messages once the channel closes
		logger.Error("Failed to nack message",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
	if requeue {
		return Requeued
	}
	return Rejected
}

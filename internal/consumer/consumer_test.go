package consumer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

type ackRecorder struct {
	acked, nacked, requeued int
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acked++; return nil }

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	if requeue {
		a.requeued++
	}
	return nil
}

func (a *ackRecorder) Reject(uint64, bool) error { a.nacked++; return nil }

type handlerFunc func(ctx context.Context, decoded []byte) error

func (f handlerFunc) HandleEvent(ctx context.Context, decoded []byte) error { return f(ctx, decoded) }

func delivery(ack amqp.Acknowledger, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(body)}
}

func TestProcessMessage(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(`{"event_type":"meal_logged"}`))

	cases := []struct {
		name    string
		body    string
		err     error
		outcome Outcome
		acked   int
		nacked  int
		requeue int
	}{
		{"ack on success", encoded, nil, Acked, 1, 0, 0},
		{"reject on handler error", encoded, errors.New("bad event"), Rejected, 0, 1, 0},
		{"requeue on transient error", encoded, fmt.Errorf("%w: database down", ErrRequeue), Requeued, 0, 1, 1},
		{"reject undecodable body", "not base64!", nil, Rejected, 0, 1, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack := &ackRecorder{}
			var got []byte
			h := handlerFunc(func(_ context.Context, decoded []byte) error {
				got = decoded
				return tc.err
			})

			outcome := ProcessMessage(context.Background(), "sync.events", delivery(ack, tc.body), h)

			assert.Equal(t, tc.outcome, outcome)
			assert.Equal(t, tc.acked, ack.acked)
			assert.Equal(t, tc.nacked, ack.nacked)
			assert.Equal(t, tc.requeue, ack.requeued)
			if tc.body == encoded {
				assert.JSONEq(t, `{"event_type":"meal_logged"}`, string(got))
			}
		})
	}
}

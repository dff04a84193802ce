// Package emitter records domain events in the sync log and makes the first delivery attempt.
package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marminbh/eventsync-svc/internal/config"
	"github.com/marminbh/eventsync-svc/internal/models"
	"github.com/marminbh/eventsync-svc/internal/webhook"
)

// ErrInvalidEvent is returned when an event cannot be recorded as given
var ErrInvalidEvent = errors.New("invalid sync event")

// Store is the part of the sync log the emitter writes
type Store interface {
	Create(ctx context.Context, entry *models.SyncLogEntry) error
	SaveAttempt(ctx context.Context, entry *models.SyncLogEntry, attempt *models.DeliveryAttempt) error
}

// Deliverer performs one delivery attempt
type Deliverer interface {
	Deliver(ctx context.Context, entry *models.SyncLogEntry) *webhook.Result
}

// Emitter is the producer-facing entry point of the pipeline
type Emitter struct {
	cfg       config.SyncConfig
	store     Store
	deliverer Deliverer
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes an Emitter
type Option func(*Emitter)

// WithClock replaces the clock used for created and processed stamps
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) { e.now = now }
}

func New(cfg config.SyncConfig, store Store, deliverer Deliverer, logger *zap.Logger, opts ...Option) *Emitter {
	e := &Emitter{
		cfg:       cfg,
		store:     store,
		deliverer: deliverer,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit records the event as a pending entry, delivers it once and stores the outcome on the same row.
// Delivery failures are not errors: the entry comes back failed and the retry job picks it up.
// When sync is disabled nothing is recorded and Emit returns (nil, nil).
func (e *Emitter) Emit(ctx context.Context, eventType, entityType, entityID string, payload any) (*models.SyncLogEntry, error) {
	if !e.cfg.Enabled {
		e.logger.Debug("Sync disabled, event not recorded",
			zap.String("event_type", eventType),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
		)
		return nil, nil
	}

	entry, err := e.newEntry(eventType, entityType, entityID, payload)
	if err != nil {
		return nil, err
	}

	if err := e.store.Create(ctx, entry); err != nil {
		e.logger.Error("Failed to record sync event",
			zap.String("event_type", eventType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
		return nil, err
	}

	attemptNo := entry.AttemptNo()
	result := e.deliver(ctx, entry)

	if err := result.Apply(entry, e.now()); err != nil {
		return entry, fmt.Errorf("failed to apply delivery result: %w", err)
	}
	if err := e.store.SaveAttempt(ctx, entry, result.Attempt(attemptNo)); err != nil {
		e.logger.Error("Failed to save delivery outcome",
			zap.String("sync_log_id", entry.ID.String()),
			zap.Error(err),
		)
		return entry, err
	}

	if result.Success() {
		e.logger.Info("Sync event delivered",
			zap.String("sync_log_id", entry.ID.String()),
			zap.String("event_type", eventType),
			zap.Int("latency_ms", result.LatencyMs),
		)
	} else {
		e.logger.Warn("Sync event delivery failed, queued for retry",
			zap.String("sync_log_id", entry.ID.String()),
			zap.String("event_type", eventType),
			zap.String("error", result.ErrorMessage()),
		)
	}
	return entry, nil
}

func (e *Emitter) newEntry(eventType, entityType, entityID string, payload any) (*models.SyncLogEntry, error) {
	var missing []string
	if strings.TrimSpace(eventType) == "" {
		missing = append(missing, "event_type")
	}
	if strings.TrimSpace(entityType) == "" {
		missing = append(missing, "entity_type")
	}
	if strings.TrimSpace(entityID) == "" {
		missing = append(missing, "entity_id")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
	}

	body, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	entry := models.NewSyncLogEntry(models.EventType(eventType), entityType, entityID, body, e.now())
	if _, err := webhook.NewEnvelope(entry).Marshal(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return entry, nil
}

// marshalPayload serializes the payload once; raw JSON is accepted as is
func marshalPayload(payload any) ([]byte, error) {
	var body []byte
	switch p := payload.(type) {
	case nil:
		return nil, errors.New("payload is required")
	case json.RawMessage:
		body = p
	case []byte:
		body = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("payload is not serializable: %w", err)
		}
		body = b
	}

	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return nil, errors.New("payload is not valid JSON")
	}
	if len(body) == 0 || body[0] != '{' {
		return nil, errors.New("payload must be a JSON object")
	}
	return body, nil
}

func (e *Emitter) deliver(ctx context.Context, entry *models.SyncLogEntry) (result *webhook.Result) {
	started := e.now()
	defer func() {
		if r := recover(); r != nil {
			result = &webhook.Result{Error: fmt.Errorf("delivery panicked: %v", r), StartedAt: started, FinishedAt: e.now()}
		}
	}()

	result = e.deliverer.Deliver(ctx, entry)
	if result == nil {
		result = &webhook.Result{Error: errors.New("deliverer returned no result"), StartedAt: started, FinishedAt: e.now()}
	}
	return result
}

package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SyncStatus is the stored delivery status of a sync entry
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSuccess SyncStatus = "success"
	StatusFailed  SyncStatus = "failed"
)

// ErrInvalidTransition is returned when a lifecycle change is not allowed from the current status
var ErrInvalidTransition = errors.New("invalid sync status transition")

// SyncLogEntry is the durable record of one logical event and its delivery state.
// Retries mutate the same row; a row is never duplicated per attempt.
type SyncLogEntry struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EventType          EventType      `gorm:"type:varchar(64);not null;index" json:"event_type"`
	EntityType         string         `gorm:"type:varchar(64);not null;index" json:"entity_type"`
	EntityID           string         `gorm:"type:varchar(128);not null" json:"entity_id"`
	Payload            datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	Status             SyncStatus     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	RetryCount         int            `gorm:"not null;default:0" json:"retry_count"`
	Response           *string        `gorm:"type:text" json:"response"`
	ErrorMessage       *string        `gorm:"type:text" json:"error_message"`
	TimestampCreated   time.Time      `gorm:"not null;index" json:"timestamp_created"`
	TimestampProcessed *time.Time     `json:"timestamp_processed"`
}

func (SyncLogEntry) TableName() string {
	return "sync_log"
}

// MutableColumns lists the columns a delivery attempt overwrites as a whole
var MutableColumns = []string{
	"status",
	"retry_count",
	"response",
	"error_message",
	"timestamp_processed",
}

// NewSyncLogEntry builds a pending entry for a freshly emitted event
func NewSyncLogEntry(eventType EventType, entityType, entityID string, payload []byte, now time.Time) *SyncLogEntry {
	return &SyncLogEntry{
		ID:               uuid.New(),
		EventType:        eventType,
		EntityType:       entityType,
		EntityID:         entityID,
		Payload:          datatypes.JSON(payload),
		Status:           StatusPending,
		RetryCount:       0,
		TimestampCreated: now.UTC(),
	}
}

// RecordSuccess marks the entry delivered.
// Allowed from pending (inline attempt) and failed (retry).
func (e *SyncLogEntry) RecordSuccess(response *string, at time.Time) error {
	if e.Status != StatusPending && e.Status != StatusFailed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, StatusSuccess)
	}

	processed := at.UTC()
	e.Status = StatusSuccess
	e.Response = response
	e.ErrorMessage = nil
	e.TimestampProcessed = &processed
	return nil
}

// RecordFailure marks the entry failed. A failed retry increments RetryCount;
// the inline attempt leaves it at zero.
func (e *SyncLogEntry) RecordFailure(response *string, errorMessage string, at time.Time) error {
	retry := false
	switch e.Status {
	case StatusPending:
	case StatusFailed:
		retry = true
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, StatusFailed)
	}

	processed := at.UTC()
	if retry {
		e.RetryCount++
	}
	e.Status = StatusFailed
	e.Response = response
	e.ErrorMessage = &errorMessage
	e.TimestampProcessed = &processed
	return nil
}

// AttemptNo is the 1-based number of the next delivery attempt for this entry
func (e *SyncLogEntry) AttemptNo() int {
	if e.Status == StatusPending {
		return 1
	}
	return e.RetryCount + 2
}

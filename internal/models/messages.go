package models

import (
	"encoding/json"
	"time"
)

// DomainEvent is a domain action published by a producer to the intake queue
type DomainEvent struct {
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// DeadLetterMessage is published when an entry exhausts its retry budget
type DeadLetterMessage struct {
	SyncLogID  string    `json:"sync_log_id"`
	EventType  string    `json:"event_type"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error"`
	FailedAt   time.Time `json:"failed_at"`
}

// NewDeadLetterMessage builds the notification body for an exhausted entry
func NewDeadLetterMessage(e *SyncLogEntry) DeadLetterMessage {
	msg := DeadLetterMessage{
		SyncLogID:  e.ID.String(),
		EventType:  string(e.EventType),
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		RetryCount: e.RetryCount,
	}
	if e.ErrorMessage != nil {
		msg.LastError = *e.ErrorMessage
	}
	if e.TimestampProcessed != nil {
		msg.FailedAt = *e.TimestampProcessed
	}
	return msg
}

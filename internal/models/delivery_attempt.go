package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryAttempt is the audit record of a single webhook call for an entry
type DeliveryAttempt struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SyncLogID       uuid.UUID `gorm:"type:uuid;not null;index" json:"sync_log_id"`
	AttemptNo       int       `gorm:"not null" json:"attempt_no"`
	StartedAt       time.Time `gorm:"not null" json:"started_at"`
	FinishedAt      time.Time `gorm:"not null" json:"finished_at"`
	Success         bool      `gorm:"not null;default:false" json:"success"`
	HTTPStatus      *int      `gorm:"type:integer" json:"http_status"`
	LatencyMs       int       `gorm:"not null;default:0" json:"latency_ms"`
	ErrorMessage    *string   `gorm:"type:text" json:"error_message"`
	ResponseSummary *string   `gorm:"type:text" json:"response_summary"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
}

func (DeliveryAttempt) TableName() string {
	return "sync_delivery_attempts"
}

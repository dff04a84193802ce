package synclog

import (
	"time"

	"gorm.io/gorm"

	"github.com/marminbh/eventsync-svc/internal/models"
)

// updateMutableFields writes every mutable column, including zero values,
// so each attempt is a whole-row overwrite rather than a patch
func updateMutableFields(db *gorm.DB, entry *models.SyncLogEntry) error {
	res := db.Model(&models.SyncLogEntry{}).
		Where("id = ?", entry.ID).
		Select(models.MutableColumns).
		Updates(map[string]interface{}{
			"status":              entry.Status,
			"retry_count":         entry.RetryCount,
			"response":            entry.Response,
			"error_message":       entry.ErrorMessage,
			"timestamp_processed": entry.TimestampProcessed,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func retryableQuery(db *gorm.DB, maxRetries int) *gorm.DB {
	return db.Model(&models.SyncLogEntry{}).
		Where("status = ? AND retry_count < ?", models.StatusFailed, maxRetries)
}

// findRetryCandidates uses keyset pagination on (timestamp_created, id)
func findRetryCandidates(db *gorm.DB, maxRetries int, after Cursor, pageSize int) ([]models.SyncLogEntry, error) {
	var entries []models.SyncLogEntry

	query := retryableQuery(db, maxRetries)
	if !after.IsZero() {
		query = query.Where("(timestamp_created > ? OR (timestamp_created = ? AND id > ?))",
			after.CreatedAt, after.CreatedAt, after.ID)
	}

	err := query.
		Order("timestamp_created ASC").
		Order("id ASC").
		Limit(pageSize).
		Find(&entries).Error
	return entries, err
}

// deleteTerminalBefore removes attempts first, then the entries they belong to
func deleteTerminalBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	terminal := []models.SyncStatus{models.StatusSuccess, models.StatusFailed}

	ids := tx.Model(&models.SyncLogEntry{}).
		Select("id").
		Where("status IN ? AND timestamp_created <= ?", terminal, cutoff)

	if err := tx.Where("sync_log_id IN (?)", ids).Delete(&models.DeliveryAttempt{}).Error; err != nil {
		return 0, err
	}

	res := tx.Where("status IN ? AND timestamp_created <= ?", terminal, cutoff).
		Delete(&models.SyncLogEntry{})
	return res.RowsAffected, res.Error
}

func applyListFilter(query *gorm.DB, filter ListFilter) *gorm.DB {
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("timestamp_created >= ?", filter.CreatedFrom.UTC())
	}
	if filter.CreatedTo != nil {
		query = query.Where("timestamp_created <= ?", filter.CreatedTo.UTC())
	}
	return query
}

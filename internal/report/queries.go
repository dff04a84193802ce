package report

import (
	"time"

	"gorm.io/gorm"

	"github.com/marminbh/eventsync-svc/internal/models"
)

type windowTotals struct {
	Total             int64
	Success           int64
	Failed            int64
	Pending           int64
	PermanentlyFailed int64
	SuccessRetries    int64
	MaxRetries        int
}

type breakdownRow struct {
	Name    string
	Total   int64
	Success int64
	Failed  int64
}

func inWindow(db *gorm.DB, from, to time.Time) *gorm.DB {
	return db.Model(&models.SyncLogEntry{}).
		Where("timestamp_created >= ? AND timestamp_created <= ?", from.UTC(), to.UTC())
}

// sumTotals aggregates the window in a single pass
func sumTotals(db *gorm.DB, from, to time.Time, maxRetries int) (windowTotals, error) {
	var t windowTotals
	err := inWindow(db, from, to).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS success,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = ? AND retry_count >= ? THEN 1 ELSE 0 END), 0) AS permanently_failed,
			COALESCE(SUM(CASE WHEN status = ? THEN retry_count ELSE 0 END), 0) AS success_retries,
			COALESCE(MAX(retry_count), 0) AS max_retries`,
			models.StatusSuccess,
			models.StatusFailed,
			models.StatusPending,
			models.StatusFailed, maxRetries,
			models.StatusSuccess,
		).
		Scan(&t).Error
	return t, err
}

// breakdownBy groups terminal rows of the window by column, largest group first
func breakdownBy(db *gorm.DB, column string, from, to time.Time) ([]breakdownRow, error) {
	var rows []breakdownRow
	err := inWindow(db, from, to).
		Select(column+` AS name,
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS success,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed`,
			models.StatusSuccess,
			models.StatusFailed,
		).
		Where("status IN ?", []models.SyncStatus{models.StatusSuccess, models.StatusFailed}).
		Group(column).
		Order("total DESC").
		Order(column + " ASC").
		Scan(&rows).Error
	return rows, err
}

func countStalePending(db *gorm.DB, createdBefore time.Time) (int64, error) {
	var n int64
	err := db.Model(&models.SyncLogEntry{}).
		Where("status = ? AND timestamp_created < ?", models.StatusPending, createdBefore.UTC()).
		Count(&n).Error
	return n, err
}

func countFailuresSince(db *gorm.DB, since time.Time) (int64, error) {
	var n int64
	err := db.Model(&models.SyncLogEntry{}).
		Where("status = ? AND timestamp_processed >= ?", models.StatusFailed, since.UTC()).
		Count(&n).Error
	return n, err
}

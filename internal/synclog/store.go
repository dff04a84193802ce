// Package synclog persists sync entries and their delivery attempts.
// It is the source of truth for delivery state.
package synclog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/marminbh/eventsync-svc/internal/models"
)

// ErrNotFound is returned when a sync entry does not exist
var ErrNotFound = errors.New("sync log entry not found")

// Store is the GORM-backed sync log
type Store struct {
	db *gorm.DB
}

// NewStore creates a store over an open database
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for read-only reporting
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Create inserts a new entry
func (s *Store) Create(ctx context.Context, entry *models.SyncLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create sync log entry: %w", err)
	}
	return nil
}

// Get loads a single entry by id
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.SyncLogEntry, error) {
	var entry models.SyncLogEntry
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load sync log entry: %w", err)
	}
	return &entry, nil
}

// SaveAttempt overwrites the mutable columns of the entry and records the attempt
// in one transaction
func (s *Store) SaveAttempt(ctx context.Context, entry *models.SyncLogEntry, attempt *models.DeliveryAttempt) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateMutableFields(tx, entry); err != nil {
			return fmt.Errorf("failed to update sync log entry: %w", err)
		}
		if attempt != nil {
			attempt.SyncLogID = entry.ID
			if err := tx.Create(attempt).Error; err != nil {
				return fmt.Errorf("failed to create delivery attempt: %w", err)
			}
		}
		return nil
	})
}

// Cursor marks a position in the oldest-first retry scan
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// IsZero reports whether the cursor points at the start of the scan
func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == uuid.Nil
}

// After returns the cursor positioned after the given entry
func After(entry models.SyncLogEntry) Cursor {
	return Cursor{CreatedAt: entry.TimestampCreated, ID: entry.ID}
}

// RetryCandidates returns failed entries that still have retry budget,
// oldest created first, starting after the cursor
func (s *Store) RetryCandidates(ctx context.Context, maxRetries int, after Cursor, pageSize int) ([]models.SyncLogEntry, error) {
	entries, err := findRetryCandidates(s.db.WithContext(ctx), maxRetries, after, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query retry candidates: %w", err)
	}
	return entries, nil
}

// CountRetryable counts failed entries that still have retry budget, due or not
func (s *Store) CountRetryable(ctx context.Context, maxRetries int) (int64, error) {
	var n int64
	if err := retryableQuery(s.db.WithContext(ctx), maxRetries).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count retryable entries: %w", err)
	}
	return n, nil
}

// PurgeTerminal deletes success and failed entries created at or before cutoff,
// along with their attempts. Pending entries are never removed.
func (s *Store) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := deleteTerminalBefore(tx, cutoff.UTC())
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge sync log: %w", err)
	}
	return deleted, nil
}

// ListFilter narrows the operational listing
type ListFilter struct {
	Status      models.SyncStatus
	EventType   string
	EntityType  string
	EntityID    string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// List returns entries newest first and whether more rows follow
func (s *Store) List(ctx context.Context, filter ListFilter) ([]models.SyncLogEntry, bool, error) {
	if filter.Limit <= 0 {
		filter.Limit = 25
	}

	// Fetch one extra row to determine has_more
	var entries []models.SyncLogEntry
	err := applyListFilter(s.db.WithContext(ctx).Model(&models.SyncLogEntry{}), filter).
		Order("timestamp_created DESC").
		Order("id DESC").
		Limit(filter.Limit + 1).
		Offset(filter.Offset).
		Find(&entries).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to list sync log entries: %w", err)
	}

	hasMore := len(entries) > filter.Limit
	if hasMore {
		entries = entries[:filter.Limit]
	}
	return entries, hasMore, nil
}

// Attempts returns the audit trail of an entry in attempt order
func (s *Store) Attempts(ctx context.Context, id uuid.UUID) ([]models.DeliveryAttempt, error) {
	var attempts []models.DeliveryAttempt
	err := s.db.WithContext(ctx).
		Where("sync_log_id = ?", id).
		Order("attempt_no ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery attempts: %w", err)
	}
	return attempts, nil
}

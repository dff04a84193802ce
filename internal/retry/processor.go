// Package retry owns the backoff policy and the batch job that re-delivers failed entries.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marminbh/eventsync-svc/internal/config"
	"github.com/marminbh/eventsync-svc/internal/models"
	"github.com/marminbh/eventsync-svc/internal/notify"
	"github.com/marminbh/eventsync-svc/internal/synclog"
	"github.com/marminbh/eventsync-svc/internal/webhook"
)

const (
	DefaultBatchLimit = config.DefaultBatchLimit
	minPageSize       = 100
)

// EntryStore is the part of the sync log the processor reads and writes
type EntryStore interface {
	RetryCandidates(ctx context.Context, maxRetries int, after synclog.Cursor, pageSize int) ([]models.SyncLogEntry, error)
	SaveAttempt(ctx context.Context, entry *models.SyncLogEntry, attempt *models.DeliveryAttempt) error
	CountRetryable(ctx context.Context, maxRetries int) (int64, error)
}

// Deliverer performs one delivery attempt
type Deliverer interface {
	Deliver(ctx context.Context, entry *models.SyncLogEntry) *webhook.Result
}

// BatchOptions controls a single processor run
type BatchOptions struct {
	Limit  int
	Force  bool
	DryRun bool
}

// BatchResult reports what a run did. Processed == Succeeded + Failed;
// MaxExceeded counts the failed entries that spent their last retry in this run.
type BatchResult struct {
	Processed   int                   `json:"processed"`
	Succeeded   int                   `json:"succeeded"`
	Failed      int                   `json:"failed"`
	MaxExceeded int                   `json:"max_exceeded"`
	Eligible    []models.SyncLogEntry `json:"eligible,omitempty"`
	Disabled    bool                  `json:"disabled,omitempty"`
	DryRun      bool                  `json:"dry_run,omitempty"`
}

type attemptOutcome int

const (
	outcomeSucceeded attemptOutcome = iota
	outcomeFailed
	outcomeExhausted
)

// Processor re-delivers failed entries according to the backoff policy
type Processor struct {
	cfg       config.SyncConfig
	policy    Policy
	store     EntryStore
	deliverer Deliverer
	notifier  notify.Notifier
	logger    *zap.Logger
	now       func() time.Time
}

// ProcessorOption customizes a Processor
type ProcessorOption func(*Processor)

// WithClock replaces the clock used for eligibility and processed stamps
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a processor; a nil notifier discards exhaustion notices
func NewProcessor(
	cfg config.SyncConfig,
	store EntryStore,
	deliverer Deliverer,
	notifier notify.Notifier,
	logger *zap.Logger,
	opts ...ProcessorOption,
) *Processor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	p := &Processor{
		cfg:       cfg,
		policy:    NewPolicy(cfg),
		store:     store,
		deliverer: deliverer,
		notifier:  notifier,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the backoff policy in use
func (p *Processor) Policy() Policy {
	return p.policy
}

// Outstanding counts failed entries that will still be retried, whether or not they are due yet
func (p *Processor) Outstanding(ctx context.Context) (int64, error) {
	return p.store.CountRetryable(ctx, p.policy.MaxRetryAttempts)
}

// ProcessBatch selects up to Limit eligible entries, oldest first, and retries each once.
// A failure on one entry never stops the batch.
func (p *Processor) ProcessBatch(ctx context.Context, opts BatchOptions) (*BatchResult, error) {
	if !p.cfg.Enabled {
		p.logger.Debug("Sync disabled, skipping retry batch")
		return &BatchResult{Disabled: true}, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	now := p.now()
	entries, err := p.selectEligible(ctx, now, limit, opts.Force)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{DryRun: opts.DryRun}
	if opts.DryRun {
		result.Eligible = entries
		p.logger.Info("Retry batch dry run",
			zap.Int("eligible", len(entries)),
			zap.Bool("force", opts.Force),
		)
		return result, nil
	}

	for i := range entries {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("Retry batch interrupted",
				zap.Int("processed", result.Processed),
				zap.Error(err),
			)
			break
		}

		result.Processed++
		switch p.retryEntry(ctx, &entries[i]) {
		case outcomeSucceeded:
			result.Succeeded++
		case outcomeExhausted:
			result.MaxExceeded++
			result.Failed++
		default:
			result.Failed++
		}
	}

	p.logger.Info("Retry batch finished",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("max_exceeded", result.MaxExceeded),
		zap.Bool("force", opts.Force),
	)
	return result, nil
}

// selectEligible pages through failed entries with budget left until limit are due
func (p *Processor) selectEligible(ctx context.Context, now time.Time, limit int, force bool) ([]models.SyncLogEntry, error) {
	pageSize := limit
	if pageSize < minPageSize {
		pageSize = minPageSize
	}

	selected := make([]models.SyncLogEntry, 0, limit)
	var cursor synclog.Cursor
	for len(selected) < limit {
		page, err := p.store.RetryCandidates(ctx, p.policy.MaxRetryAttempts, cursor, pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to select retry candidates: %w", err)
		}

		for i := range page {
			if p.policy.IsEligible(&page[i], now, force) {
				selected = append(selected, page[i])
				if len(selected) == limit {
					break
				}
			}
		}

		if len(page) < pageSize {
			break
		}
		cursor = synclog.After(page[len(page)-1])
	}
	return selected, nil
}

// retryEntry delivers one entry and persists the outcome on its row
func (p *Processor) retryEntry(ctx context.Context, entry *models.SyncLogEntry) (outcome attemptOutcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Unexpected panic while retrying sync entry",
				zap.String("sync_log_id", entry.ID.String()),
				zap.Any("panic", r),
			)
			outcome = outcomeFailed
		}
	}()

	attemptNo := entry.AttemptNo()
	result := p.safeDeliver(ctx, entry)
	at := p.now()

	if err := result.Apply(entry, at); err != nil {
		p.logger.Error("Failed to apply delivery result",
			zap.String("sync_log_id", entry.ID.String()),
			zap.Error(err),
		)
		return outcomeFailed
	}

	if err := p.store.SaveAttempt(ctx, entry, result.Attempt(attemptNo)); err != nil {
		p.logger.Error("Failed to save retry attempt",
			zap.String("sync_log_id", entry.ID.String()),
			zap.Int("attempt_no", attemptNo),
			zap.Error(err),
		)
		return outcomeFailed
	}

	if result.Success() {
		p.logger.Info("Sync retry succeeded",
			zap.String("sync_log_id", entry.ID.String()),
			zap.String("event_type", string(entry.EventType)),
			zap.Int("retry_count", entry.RetryCount),
			zap.Int("latency_ms", result.LatencyMs),
		)
		return outcomeSucceeded
	}

	if p.policy.Exhausted(entry) {
		p.logger.Warn("Sync retry failed (max attempts reached)",
			zap.String("sync_log_id", entry.ID.String()),
			zap.String("event_type", string(entry.EventType)),
			zap.Int("retry_count", entry.RetryCount),
			zap.String("last_error", result.ErrorMessage()),
		)
		if err := p.notifier.NotifyExhausted(ctx, entry); err != nil {
			p.logger.Error("Failed to notify about exhausted sync entry",
				zap.String("sync_log_id", entry.ID.String()),
				zap.Error(err),
			)
		}
		return outcomeExhausted
	}

	p.logger.Info("Sync retry failed, will be retried",
		zap.String("sync_log_id", entry.ID.String()),
		zap.String("event_type", string(entry.EventType)),
		zap.Int("retry_count", entry.RetryCount),
		zap.Time("next_attempt_at", p.policy.NextAttemptNotBefore(entry)),
		zap.String("last_error", result.ErrorMessage()),
	)
	return outcomeFailed
}

// safeDeliver turns a panicking or silent deliverer into a failed result
func (p *Processor) safeDeliver(ctx context.Context, entry *models.SyncLogEntry) (result *webhook.Result) {
	started := p.now()
	defer func() {
		if r := recover(); r != nil {
			result = &webhook.Result{
				Error:      fmt.Errorf("delivery panicked: %v", r),
				StartedAt:  started,
				FinishedAt: p.now(),
			}
		}
	}()

	result = p.deliverer.Deliver(ctx, entry)
	if result == nil {
		result = &webhook.Result{
			Error:      fmt.Errorf("deliverer returned no result"),
			StartedAt:  started,
			FinishedAt: p.now(),
		}
	}
	return result
}

// Package report builds read-only delivery health reports over the sync log.
package report

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/marminbh/eventsync-svc/internal/config"
)

// ErrInvalidRange is returned when the window ends before it starts
var ErrInvalidRange = errors.New("report window ends before it starts")

const failureWindow = time.Hour

// HealthReport summarizes delivery health for entries created in [From, To].
// StalePending and FailuresLastHour cover the whole store.
type HealthReport struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	GeneratedAt time.Time `json:"generated_at"`

	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
	Pending int64 `json:"pending"`

	SuccessRate float64 `json:"success_rate"`
	FailureRate float64 `json:"failure_rate"`

	PermanentlyFailed int64   `json:"permanently_failed"`
	AvgRetryCount     float64 `json:"avg_retry_count"`
	MaxRetryCount     int     `json:"max_retry_count"`

	StalePending     int64 `json:"stale_pending"`
	FailuresLastHour int64 `json:"failures_last_hour"`

	ByEventType  []Breakdown `json:"by_event_type"`
	ByEntityType []Breakdown `json:"by_entity_type"`
}

// Breakdown is the outcome of terminal entries sharing one event or entity type
type Breakdown struct {
	Name        string  `json:"name"`
	Count       int64   `json:"count"`
	Success     int64   `json:"success"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// Aggregator computes health reports; it never writes
type Aggregator struct {
	db                *gorm.DB
	maxRetryAttempts  int
	stalePendingAfter time.Duration
	now               func() time.Time
}

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func NewAggregator(db *gorm.DB, cfg config.SyncConfig, opts ...Option) *Aggregator {
	a := &Aggregator{
		db:                db,
		maxRetryAttempts:  cfg.MaxRetryAttempts,
		stalePendingAfter: cfg.StalePendingAfter,
		now:               func() time.Time { return time.Now().UTC() },
	}
	if a.maxRetryAttempts <= 0 {
		a.maxRetryAttempts = config.DefaultMaxRetryAttempts
	}
	if a.stalePendingAfter <= 0 {
		a.stalePendingAfter = config.DefaultStalePendingAfter
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Health builds the report for entries created between from and to, both inclusive
func (a *Aggregator) Health(ctx context.Context, from, to time.Time) (*HealthReport, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	db := a.db.WithContext(ctx)
	now := a.now().UTC()

	totals, err := sumTotals(db, from, to, a.maxRetryAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sync log: %w", err)
	}

	r := &HealthReport{
		From:              from.UTC(),
		To:                to.UTC(),
		GeneratedAt:       now,
		Total:             totals.Total,
		Success:           totals.Success,
		Failed:            totals.Failed,
		Pending:           totals.Pending,
		SuccessRate:       percent(totals.Success, totals.Total),
		FailureRate:       percent(totals.Failed, totals.Total),
		PermanentlyFailed: totals.PermanentlyFailed,
		MaxRetryCount:     totals.MaxRetries,
	}
	if totals.Success > 0 {
		r.AvgRetryCount = round2(float64(totals.SuccessRetries) / float64(totals.Success))
	}

	if r.StalePending, err = countStalePending(db, now.Add(-a.stalePendingAfter)); err != nil {
		return nil, fmt.Errorf("failed to count stale pending entries: %w", err)
	}
	if r.FailuresLastHour, err = countFailuresSince(db, now.Add(-failureWindow)); err != nil {
		return nil, fmt.Errorf("failed to count recent failures: %w", err)
	}

	if r.ByEventType, err = a.breakdown(db, "event_type", from, to); err != nil {
		return nil, err
	}
	if r.ByEntityType, err = a.breakdown(db, "entity_type", from, to); err != nil {
		return nil, err
	}
	return r, nil
}

func (a *Aggregator) breakdown(db *gorm.DB, column string, from, to time.Time) ([]Breakdown, error) {
	rows, err := breakdownBy(db, column, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to break down sync log by %s: %w", column, err)
	}
	out := make([]Breakdown, 0, len(rows))
	for _, row := range rows {
		out = append(out, Breakdown{
			Name:        row.Name,
			Count:       row.Total,
			Success:     row.Success,
			Failed:      row.Failed,
			SuccessRate: percent(row.Success, row.Total),
		})
	}
	return out, nil
}

func percent(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return round2(float64(part) * 100 / float64(whole))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

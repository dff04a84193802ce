// Package retention deletes terminal sync entries past their retention window.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidRetention is returned for a retention window shorter than one day
var ErrInvalidRetention = errors.New("retention must be at least one day")

// Store deletes terminal entries created at or before cutoff
type Store interface {
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}

// Purger removes success and failed entries older than a number of days.
// Pending entries are never touched.
type Purger struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// Option customizes a Purger
type Option func(*Purger)

func WithClock(now func() time.Time) Option {
	return func(p *Purger) { p.now = now }
}

func NewPurger(store Store, logger *zap.Logger, opts ...Option) *Purger {
	p := &Purger{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cutoff is the newest creation time that olderThanDays still purges
func (p *Purger) Cutoff(olderThanDays int) time.Time {
	return p.now().UTC().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
}

// Purge deletes terminal entries created olderThanDays or more ago and returns how many went
func (p *Purger) Purge(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 1 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidRetention, olderThanDays)
	}

	cutoff := p.Cutoff(olderThanDays)
	deleted, err := p.store.PurgeTerminal(ctx, cutoff)
	if err != nil {
		p.logger.Error("Failed to purge sync log",
			zap.Int("older_than_days", olderThanDays),
			zap.Error(err),
		)
		return 0, err
	}

	p.logger.Info("Purged sync log",
		zap.Int("older_than_days", olderThanDays),
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", deleted),
	)
	return deleted, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/marminbh/eventsync-svc/internal/retry"
)

const (
	exitOK     = 0
	exitFailed = 1
)

type options struct {
	Limit     int
	DryRun    bool
	Force     bool
	Purge     bool
	PurgeDays int
}

type batchRunner interface {
	ProcessBatch(ctx context.Context, opts retry.BatchOptions) (*retry.BatchResult, error)
	Outstanding(ctx context.Context) (int64, error)
}

type purger interface {
	Purge(ctx context.Context, olderThanDays int) (int64, error)
}

type summary struct {
	Purged          *int64 `json:"purged,omitempty"`
	RemainingFailed int64  `json:"remaining_failed"`
	*retry.BatchResult
}

// run purges when asked, runs one batch and writes a JSON summary to out.
// The exit code is exitFailed when a delivery in the batch failed or any failed entry
// with retry budget is left in the store, including ones that were not due yet.
func run(ctx context.Context, opts options, batch batchRunner, p purger, out io.Writer, log *zap.Logger) (int, error) {
	var s summary

	if opts.Purge {
		if opts.DryRun {
			log.Info("Dry run, purge skipped", zap.Int("purge_days", opts.PurgeDays))
		} else {
			purged, err := p.Purge(ctx, opts.PurgeDays)
			if err != nil {
				return exitFailed, fmt.Errorf("purge: %w", err)
			}
			s.Purged = &purged
		}
	}

	res, err := batch.ProcessBatch(ctx, retry.BatchOptions{
		Limit:  opts.Limit,
		Force:  opts.Force,
		DryRun: opts.DryRun,
	})
	if err != nil {
		return exitFailed, fmt.Errorf("retry batch: %w", err)
	}
	s.BatchResult = res

	if !res.Disabled {
		remaining, err := batch.Outstanding(ctx)
		if err != nil {
			return exitFailed, fmt.Errorf("count remaining failures: %w", err)
		}
		s.RemainingFailed = remaining
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return exitFailed, fmt.Errorf("write summary: %w", err)
	}

	if res.Failed > 0 || s.RemainingFailed > 0 {
		return exitFailed, nil
	}
	return exitOK, nil
}

// Package scheduler runs the periodic retry and purge jobs inside the server process.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobFunc is one run of a periodic job
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	run      JobFunc
}

// Scheduler runs each job on its own ticker. Runs of the same job never overlap;
// different jobs may run concurrently.
type Scheduler struct {
	jobs    []job
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{logger: logger, ctx: ctx, cancel: cancel}
}

// Add registers a job; jobs with a non-positive interval are skipped
func (s *Scheduler) Add(name string, interval time.Duration, run JobFunc) {
	if interval <= 0 {
		s.logger.Info("Scheduled job disabled", zap.String("job", name))
		return
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, run: run})
}

// Start runs every job once right away, then on its interval
func (s *Scheduler) Start() {
	if s.started {
		return
	}
	s.started = true
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(j)
		s.logger.Info("Scheduled job started",
			zap.String("job", j.name),
			zap.Duration("interval", j.interval),
		)
	}
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(j job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		s.runOnce(j)
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(j job) {
	if s.ctx.Err() != nil {
		return
	}
	started := time.Now()
	err := safeRun(s.ctx, j.run)
	if err != nil {
		s.logger.Error("Scheduled job failed",
			zap.String("job", j.name),
			zap.Duration("duration", time.Since(started)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("Scheduled job finished",
		zap.String("job", j.name),
		zap.Duration("duration", time.Since(started)),
	)
}

func safeRun(ctx context.Context, run JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return run(ctx)
}

package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marminbh/eventsync-svc/internal/config"
	"github.com/marminbh/eventsync-svc/internal/models"
	"github.com/marminbh/eventsync-svc/internal/synclog"
	"github.com/marminbh/eventsync-svc/internal/testutil"
	"github.com/marminbh/eventsync-svc/internal/webhook"
)

var t0 = time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)

type scriptedDeliverer struct {
	mu    sync.Mutex
	calls []uuid.UUID
	fn    func(entry *models.SyncLogEntry) *webhook.Result
}

func (d *scriptedDeliverer) Deliver(_ context.Context, entry *models.SyncLogEntry) *webhook.Result {
	d.mu.Lock()
	d.calls = append(d.calls, entry.ID)
	d.mu.Unlock()
	return d.fn(entry)
}

func (d *scriptedDeliverer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func accepted(*models.SyncLogEntry) *webhook.Result {
	status := 200
	return &webhook.Result{HTTPStatus: &status, ResponseBody: `{"status":"ok"}`}
}

func unreachable(*models.SyncLogEntry) *webhook.Result {
	return &webhook.Result{Error: errors.New("request failed: connection refused")}
}

type recordingNotifier struct {
	entries []uuid.UUID
}

func (n *recordingNotifier) NotifyExhausted(_ context.Context, entry *models.SyncLogEntry) error {
	n.entries = append(n.entries, entry.ID)
	return nil
}

type harness struct {
	store     *synclog.Store
	deliverer *scriptedDeliverer
	notifier  *recordingNotifier
	processor *Processor
	clock     time.Time
}

func newHarness(t *testing.T, fn func(*models.SyncLogEntry) *webhook.Result) *harness {
	t.Helper()
	h := &harness{
		store:     synclog.NewStore(testutil.NewDB(t)),
		deliverer: &scriptedDeliverer{fn: fn},
		notifier:  &recordingNotifier{},
		clock:     t0,
	}
	cfg := config.DefaultSyncConfig()
	h.processor = NewProcessor(cfg, h.store, h.deliverer, h.notifier, zap.NewNop(),
		WithClock(func() time.Time { return h.clock }))
	return h
}

// seedFailed stores an entry whose inline attempt failed at processed
func (h *harness) seedFailed(t *testing.T, created, processed time.Time) *models.SyncLogEntry {
	t.Helper()
	e := models.NewSyncLogEntry(models.AttendanceCheckedIn, "attendance", uuid.NewString(), []byte(`{"child_id":1}`), created)
	require.NoError(t, h.store.Create(context.Background(), e))
	require.NoError(t, e.RecordFailure(nil, "request failed: connection refused", processed))
	require.NoError(t, h.store.SaveAttempt(context.Background(), e, nil))
	return e
}

func (h *harness) run(t *testing.T, opts BatchOptions) *BatchResult {
	t.Helper()
	res, err := h.processor.ProcessBatch(context.Background(), opts)
	require.NoError(t, err)
	return res
}

func (h *harness) get(t *testing.T, id uuid.UUID) *models.SyncLogEntry {
	t.Helper()
	e, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return e
}

func TestOutageThenRecovery(t *testing.T) {
	failures := 2
	h := newHarness(t, func(e *models.SyncLogEntry) *webhook.Result {
		if failures > 0 {
			failures--
			return unreachable(e)
		}
		return accepted(e)
	})
	e := h.seedFailed(t, t0, t0)

	// not yet due
	h.clock = t0.Add(29 * time.Second)
	assert.Equal(t, 0, h.run(t, BatchOptions{}).Processed)

	h.clock = t0.Add(30 * time.Second)
	res := h.run(t, BatchOptions{})
	assert.Equal(t, BatchResult{Processed: 1, Failed: 1}, *res)
	assert.Equal(t, 1, h.get(t, e.ID).RetryCount)

	h.clock = h.clock.Add(60 * time.Second)
	res = h.run(t, BatchOptions{})
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, h.get(t, e.ID).RetryCount)

	h.clock = h.clock.Add(120 * time.Second)
	res = h.run(t, BatchOptions{})
	assert.Equal(t, BatchResult{Processed: 1, Succeeded: 1}, *res)

	final := h.get(t, e.ID)
	assert.Equal(t, models.StatusSuccess, final.Status)
	assert.Equal(t, 2, final.RetryCount)
	assert.Nil(t, final.ErrorMessage)
	assert.True(t, final.TimestampProcessed.Equal(h.clock))

	attempts, err := h.store.Attempts(context.Background(), e.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	assert.Equal(t, []int{2, 3, 4}, []int{attempts[0].AttemptNo, attempts[1].AttemptNo, attempts[2].AttemptNo})
	assert.True(t, attempts[2].Success)
	assert.Empty(t, h.notifier.entries)
}

func TestPermanentFailure(t *testing.T) {
	h := newHarness(t, unreachable)
	e := h.seedFailed(t, t0, t0)

	for run := 0; run < 3; run++ {
		h.clock = h.clock.Add(h.processor.Policy().Delay(run))
		res := h.run(t, BatchOptions{})
		require.Equal(t, 1, res.Processed, "run %d", run)
	}

	final := h.get(t, e.ID)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Equal(t, 3, final.RetryCount)
	assert.Equal(t, models.StatePermanentlyFailed, final.State(3))
	assert.Equal(t, []uuid.UUID{e.ID}, h.notifier.entries, "exhaustion is notified exactly once")

	// later runs never select it again, even forced
	h.clock = h.clock.AddDate(0, 1, 0)
	assert.Equal(t, 0, h.run(t, BatchOptions{}).Processed)
	assert.Equal(t, 0, h.run(t, BatchOptions{Force: true}).Processed)
	assert.Equal(t, 3, h.deliverer.callCount())
	assert.Equal(t, 3, h.get(t, e.ID).RetryCount)
}

func TestOutstandingCountsUndueFailures(t *testing.T) {
	h := newHarness(t, unreachable)
	h.seedFailed(t, t0, t0)

	h.clock = t0.Add(time.Second)
	assert.Equal(t, 0, h.run(t, BatchOptions{}).Processed)

	n, err := h.processor.Outstanding(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMaxExceededCountedInBatch(t *testing.T) {
	h := newHarness(t, unreachable)
	e := h.seedFailed(t, t0, t0)

	ctx := context.Background()
	entry := h.get(t, e.ID)
	entry.RetryCount = 2
	require.NoError(t, h.store.SaveAttempt(ctx, entry, nil))

	h.clock = t0.Add(h.processor.Policy().Delay(2))
	res := h.run(t, BatchOptions{})
	assert.Equal(t, BatchResult{Processed: 1, Failed: 1, MaxExceeded: 1}, *res)
}

func TestRerunWithSameClockDoesNotDoubleIncrement(t *testing.T) {
	h := newHarness(t, unreachable)
	e := h.seedFailed(t, t0, t0)

	h.clock = t0.Add(time.Minute)
	assert.Equal(t, 1, h.run(t, BatchOptions{}).Processed)
	assert.Equal(t, 0, h.run(t, BatchOptions{}).Processed)
	assert.Equal(t, 1, h.get(t, e.ID).RetryCount)
}

func TestPanicOnOneEntryDoesNotStopBatch(t *testing.T) {
	var bad uuid.UUID
	h := newHarness(t, func(e *models.SyncLogEntry) *webhook.Result {
		if e.ID == bad {
			panic("receiver client exploded")
		}
		return accepted(e)
	})

	first := h.seedFailed(t, t0, t0)
	middle := h.seedFailed(t, t0.Add(time.Second), t0)
	last := h.seedFailed(t, t0.Add(2*time.Second), t0)
	bad = middle.ID

	h.clock = t0.Add(time.Hour)
	res := h.run(t, BatchOptions{})
	assert.Equal(t, BatchResult{Processed: 3, Succeeded: 2, Failed: 1}, *res)

	assert.Equal(t, models.StatusSuccess, h.get(t, first.ID).Status)
	assert.Equal(t, models.StatusSuccess, h.get(t, last.ID).Status)

	broken := h.get(t, middle.ID)
	assert.Equal(t, models.StatusFailed, broken.Status)
	assert.Equal(t, 1, broken.RetryCount)
	require.NotNil(t, broken.ErrorMessage)
	assert.Contains(t, *broken.ErrorMessage, "delivery panicked")
}

func TestOldestFirstWithinLimit(t *testing.T) {
	h := newHarness(t, accepted)

	var ids []uuid.UUID
	for i := 4; i >= 0; i-- {
		created := t0.Add(-time.Duration(i) * time.Minute)
		ids = append(ids, h.seedFailed(t, created, created).ID)
	}

	h.clock = t0.Add(time.Hour)
	res := h.run(t, BatchOptions{Limit: 2})
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, ids[:2], h.deliverer.calls)

	res = h.run(t, BatchOptions{Limit: 10})
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, ids, h.deliverer.calls)
}

func TestForceSkipsTimeGate(t *testing.T) {
	h := newHarness(t, accepted)
	e := h.seedFailed(t, t0, t0)

	h.clock = t0.Add(time.Second)
	assert.Equal(t, 0, h.run(t, BatchOptions{}).Processed)
	assert.Equal(t, 1, h.run(t, BatchOptions{Force: true}).Succeeded)
	assert.Equal(t, models.StatusSuccess, h.get(t, e.ID).Status)
}

func TestDryRunDoesNotDeliver(t *testing.T) {
	h := newHarness(t, accepted)
	e := h.seedFailed(t, t0, t0)

	h.clock = t0.Add(time.Hour)
	res := h.run(t, BatchOptions{DryRun: true})
	assert.True(t, res.DryRun)
	assert.Equal(t, 0, res.Processed)
	require.Len(t, res.Eligible, 1)
	assert.Equal(t, e.ID, res.Eligible[0].ID)
	assert.Equal(t, 0, h.deliverer.callCount())
	assert.Equal(t, models.StatusFailed, h.get(t, e.ID).Status)
}

func TestDisabledIsNoop(t *testing.T) {
	h := newHarness(t, accepted)
	h.seedFailed(t, t0, t0)

	cfg := config.DefaultSyncConfig()
	cfg.Enabled = false
	p := NewProcessor(cfg, h.store, h.deliverer, nil, zap.NewNop(),
		WithClock(func() time.Time { return t0.Add(time.Hour) }))

	res, err := p.ProcessBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)
	assert.True(t, res.Disabled)
	assert.Equal(t, 0, h.deliverer.callCount())
}

func TestPendingEntriesAreNeverRetried(t *testing.T) {
	h := newHarness(t, accepted)
	e := models.NewSyncLogEntry(models.MealLogged, "meal", "m-1", []byte(`{}`), t0.Add(-time.Hour))
	require.NoError(t, h.store.Create(context.Background(), e))

	h.clock = t0.Add(time.Hour)
	assert.Equal(t, 0, h.run(t, BatchOptions{Force: true}).Processed)
	assert.Equal(t, models.StatusPending, h.get(t, e.ID).Status)
}

package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/marminbh/eventsync-svc/internal/config"
	"github.com/marminbh/eventsync-svc/internal/models"
)

func failedEntry(retries int, processed time.Time) *models.SyncLogEntry {
	e := models.NewSyncLogEntry(models.NapLogged, "nap", "44", []byte(`{}`), processed.Add(-time.Second))
	e.Status = models.StatusFailed
	e.RetryCount = retries
	e.TimestampProcessed = &processed
	return e
}

func TestDelayDoubles(t *testing.T) {
	p := NewPolicy(config.DefaultSyncConfig())

	assert.Equal(t, 30*time.Second, p.Delay(0))
	assert.Equal(t, 60*time.Second, p.Delay(1))
	assert.Equal(t, 120*time.Second, p.Delay(2))
	for r := 0; r < 10; r++ {
		assert.Equal(t, 2*p.Delay(r), p.Delay(r+1), "retry %d", r)
	}
	assert.Equal(t, p.Delay(0), p.Delay(-1))
	assert.True(t, p.Delay(1000) > 0, "large retry counts must not overflow")
}

func TestDelaySaturatesInsteadOfOverflowing(t *testing.T) {
	p := Policy{BaseDelay: 30 * time.Second, MaxRetryAttempts: 40}

	assert.Equal(t, 30*time.Second<<28, p.Delay(28))
	for r := 0; r < 28; r++ {
		assert.Equal(t, 2*p.Delay(r), p.Delay(r+1), "retry %d", r)
	}
	for r := 29; r <= 64; r++ {
		assert.Equal(t, maxDelay, p.Delay(r), "retry %d", r)
	}

	processed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, r := range []int{28, 29, 39} {
		e := failedEntry(r, processed)
		assert.False(t, p.IsEligible(e, processed, false), "retry %d is not due immediately", r)
		assert.False(t, p.IsEligible(e, processed.AddDate(1, 0, 0), false), "retry %d is not due a year later", r)
		assert.True(t, p.NextAttemptNotBefore(e).After(processed))
	}
}

func TestNewPolicyDefaults(t *testing.T) {
	p := NewPolicy(config.SyncConfig{})
	assert.Equal(t, config.DefaultRetryBaseDelay, p.BaseDelay)
	assert.Equal(t, config.DefaultMaxRetryAttempts, p.MaxRetryAttempts)
}

func TestIsEligibleTimeGate(t *testing.T) {
	p := Policy{BaseDelay: 30 * time.Second, MaxRetryAttempts: 3}
	processed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for r := 0; r < 3; r++ {
		e := failedEntry(r, processed)
		due := processed.Add(p.Delay(r))

		assert.Equal(t, due, p.NextAttemptNotBefore(e))
		assert.False(t, p.IsEligible(e, due.Add(-time.Nanosecond), false), "retry %d before due", r)
		assert.True(t, p.IsEligible(e, due, false), "retry %d at due", r)
		assert.True(t, p.IsEligible(e, due.Add(time.Hour), false), "retry %d after due", r)
	}
}

func TestIsEligibleRespectsBudget(t *testing.T) {
	p := Policy{BaseDelay: 30 * time.Second, MaxRetryAttempts: 3}
	processed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	e := failedEntry(3, processed)

	assert.True(t, p.Exhausted(e))
	assert.False(t, p.IsEligible(e, processed.AddDate(1, 0, 0), false))
	assert.False(t, p.IsEligible(e, processed, true), "force must not bypass the retry budget")
}

func TestIsEligibleForceSkipsTimeGate(t *testing.T) {
	p := Policy{BaseDelay: 30 * time.Second, MaxRetryAttempts: 3}
	processed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	e := failedEntry(1, processed)

	assert.False(t, p.IsEligible(e, processed, false))
	assert.True(t, p.IsEligible(e, processed, true))
}

func TestIsEligibleIgnoresNonFailed(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxRetryAttempts: 3}
	now := time.Now().UTC()

	pending := models.NewSyncLogEntry(models.MealLogged, "meal", "1", []byte(`{}`), now.Add(-time.Hour))
	assert.False(t, p.IsEligible(pending, now, true))

	done := failedEntry(0, now.Add(-time.Hour))
	done.Status = models.StatusSuccess
	assert.False(t, p.IsEligible(done, now, true))
}

package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(t *testing.T) *SyncLogEntry {
	t.Helper()
	now := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	return NewSyncLogEntry(AttendanceCheckedIn, "attendance", "98765", []byte(`{"child_id":12}`), now)
}

func TestNewSyncLogEntry(t *testing.T) {
	e := newEntry(t)

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", e.ID.String())
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, 0, e.RetryCount)
	assert.Nil(t, e.TimestampProcessed)
	assert.Equal(t, 1, e.AttemptNo())
}

func TestRecordFailureThenSuccess(t *testing.T) {
	e := newEntry(t)
	at := e.TimestampCreated.Add(time.Second)

	require.NoError(t, e.RecordFailure(nil, "HTTP 503", at))
	assert.Equal(t, StatusFailed, e.Status)
	assert.Equal(t, 0, e.RetryCount, "inline failure must not count as a retry")
	require.NotNil(t, e.ErrorMessage)
	assert.Equal(t, 2, e.AttemptNo())

	require.NoError(t, e.RecordFailure(nil, "HTTP 502", at.Add(time.Minute)))
	assert.Equal(t, 1, e.RetryCount)
	assert.Equal(t, "HTTP 502", *e.ErrorMessage)

	body := `{"status":"ok"}`
	require.NoError(t, e.RecordSuccess(&body, at.Add(3*time.Minute)))
	assert.Equal(t, StatusSuccess, e.Status)
	assert.Equal(t, 1, e.RetryCount)
	assert.Nil(t, e.ErrorMessage)
	assert.Equal(t, at.Add(3*time.Minute), *e.TimestampProcessed)
}

func TestSuccessIsTerminal(t *testing.T) {
	e := newEntry(t)
	require.NoError(t, e.RecordSuccess(nil, time.Now()))

	err := e.RecordFailure(nil, "boom", time.Now())
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	err = e.RecordSuccess(nil, time.Now())
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestState(t *testing.T) {
	e := newEntry(t)
	assert.Equal(t, StatePending, e.State(3))

	e.Status = StatusFailed
	e.RetryCount = 2
	assert.Equal(t, StateFailed, e.State(3))
	assert.False(t, e.State(3).IsTerminal())

	e.RetryCount = 3
	assert.Equal(t, StatePermanentlyFailed, e.State(3))
	assert.True(t, e.State(3).IsTerminal())

	e.Status = StatusSuccess
	assert.Equal(t, StateSucceeded, e.State(3))
}

func TestParseEventType(t *testing.T) {
	et, err := ParseEventType("  Meal_Logged ")
	require.NoError(t, err)
	assert.Equal(t, MealLogged, et)

	_, err = ParseEventType("invoice_created")
	assert.Error(t, err)
	assert.False(t, EventType("invoice_created").IsKnown())
}

func TestNewDeadLetterMessage(t *testing.T) {
	e := newEntry(t)
	at := e.TimestampCreated.Add(time.Hour)
	require.NoError(t, e.RecordFailure(nil, "request failed: connection refused", at))

	msg := NewDeadLetterMessage(e)
	assert.Equal(t, e.ID.String(), msg.SyncLogID)
	assert.Equal(t, "attendance_checked_in", msg.EventType)
	assert.Equal(t, "request failed: connection refused", msg.LastError)
	assert.Equal(t, at, msg.FailedAt)
}

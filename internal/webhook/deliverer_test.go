package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marminbh/eventsync-svc/internal/config"
	"github.com/marminbh/eventsync-svc/internal/models"
)

const testSecret = "test-signing-secret"

func testEntry() *models.SyncLogEntry {
	created := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	return models.NewSyncLogEntry(models.AttendanceCheckedIn, "attendance", "98765",
		[]byte(`{"child_id":12,"room":"sunflowers"}`), created)
}

func newTestDeliverer(url string, timeout time.Duration) *Deliverer {
	cfg := config.DefaultSyncConfig()
	cfg.AIServiceBaseURL = url
	cfg.SigningSecret = testSecret
	cfg.WebhookTimeout = timeout
	return NewDeliverer(cfg, zap.NewNop())
}

func TestDeliverSuccess(t *testing.T) {
	entry := testEntry()

	var gotBody []byte
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, config.DefaultWebhookPath, r.URL.Path)
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"accepted","entity_id":"98765","processing_ms":4}`))
	}))
	defer srv.Close()

	d := newTestDeliverer(srv.URL, time.Second)
	res := d.Deliver(context.Background(), entry)

	require.True(t, res.Success(), "unexpected failure: %s", res.ErrorMessage())
	assert.Equal(t, http.StatusAccepted, *res.HTTPStatus)
	assert.Empty(t, res.ErrorMessage())
	require.NotNil(t, res.Response())
	assert.Contains(t, *res.Response(), "accepted")

	var env Envelope
	require.NoError(t, json.Unmarshal(gotBody, &env))
	assert.Equal(t, "attendance_checked_in", env.EventType)
	assert.Equal(t, "attendance", env.EntityType)
	assert.Equal(t, "98765", env.EntityID)
	assert.Equal(t, "2026-03-02T08:30:00Z", env.Timestamp)
	assert.Equal(t, entry.ID.String(), env.SyncLogID)
	assert.JSONEq(t, `{"child_id":12,"room":"sunflowers"}`, string(env.Payload))

	assert.Equal(t, "attendance_checked_in", gotHeaders.Get(HeaderEventType))
	assert.Equal(t, entry.ID.String(), gotHeaders.Get(HeaderSyncLogID))
	assert.True(t, VerifyHMACSignature(gotBody, testSecret, gotHeaders.Get(HeaderSignature)))

	auth := gotHeaders.Get("Authorization")
	require.True(t, strings.HasPrefix(auth, "Bearer "))
	claims, err := ParseDeliveryToken(strings.TrimPrefix(auth, "Bearer "), testSecret, time.Now())
	require.NoError(t, err)
	assert.Equal(t, entry.ID.String(), claims.Subject)
	assert.Equal(t, "attendance_checked_in", claims.EventType)
}

func TestDeliverNon2xxIsFailure(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte("receiver unavailable"))
		}))

		res := newTestDeliverer(srv.URL, time.Second).Deliver(context.Background(), testEntry())
		srv.Close()

		assert.False(t, res.Success())
		require.NotNil(t, res.HTTPStatus)
		assert.Equal(t, code, *res.HTTPStatus)
		assert.Contains(t, res.ErrorMessage(), "receiver unavailable")
		assert.True(t, strings.HasPrefix(res.ErrorMessage(), "HTTP "))
	}
}

func TestDeliverTimeoutIsTransportFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	res := newTestDeliverer(srv.URL, 50*time.Millisecond).Deliver(context.Background(), testEntry())

	assert.False(t, res.Success())
	assert.Nil(t, res.HTTPStatus)
	assert.Error(t, res.Error)
	assert.NotEmpty(t, res.ErrorMessage())
}

func TestDeliverConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := newTestDeliverer(url, time.Second).Deliver(context.Background(), testEntry())

	assert.False(t, res.Success())
	assert.Nil(t, res.HTTPStatus)
	assert.Contains(t, res.ErrorMessage(), "request failed")
}

func TestDeliverTruncatesLargeResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	cfg := config.DefaultSyncConfig()
	cfg.AIServiceBaseURL = srv.URL
	cfg.SigningSecret = testSecret
	cfg.MaxResponseBodySize = 100
	res := NewDeliverer(cfg, zap.NewNop()).Deliver(context.Background(), testEntry())

	require.True(t, res.Success())
	assert.True(t, res.Truncated)
	assert.Len(t, res.ResponseBody, 100)
	require.NotNil(t, res.ResponseSummary())
	assert.Contains(t, *res.ResponseSummary(), "truncated")
}

func TestDeliverRejectsNonObjectPayload(t *testing.T) {
	entry := testEntry()
	entry.Payload = []byte(`[1,2,3]`)

	res := newTestDeliverer("http://127.0.0.1:1", time.Second).Deliver(context.Background(), entry)

	assert.False(t, res.Success())
	assert.Contains(t, res.ErrorMessage(), "receiver contract")
}

func TestResultApplyAndAttempt(t *testing.T) {
	entry := testEntry()
	status := 502
	res := &Result{
		HTTPStatus:   &status,
		ResponseBody: "bad gateway",
		StartedAt:    entry.TimestampCreated,
		FinishedAt:   entry.TimestampCreated.Add(time.Second),
	}

	at := entry.TimestampCreated.Add(2 * time.Second)
	require.NoError(t, res.Apply(entry, at))
	assert.Equal(t, models.StatusFailed, entry.Status)
	assert.Equal(t, "HTTP 502: bad gateway", *entry.ErrorMessage)
	assert.True(t, entry.TimestampProcessed.Equal(at))

	attempt := res.Attempt(1)
	assert.False(t, attempt.Success)
	assert.Equal(t, 502, *attempt.HTTPStatus)
	assert.Equal(t, "HTTP 502: bad gateway", *attempt.ErrorMessage)
}

package webhook

import (
	"fmt"
	"time"

	"github.com/marminbh/eventsync-svc/internal/models"
)

const errorSnippetSize = 500

// Result represents the result of a webhook delivery attempt
type Result struct {
	HTTPStatus   *int
	LatencyMs    int
	ResponseBody string
	Truncated    bool
	Error        error
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Success reports whether the receiver accepted the event (any 2xx)
func (r *Result) Success() bool {
	return r.Error == nil && r.HTTPStatus != nil && *r.HTTPStatus >= 200 && *r.HTTPStatus < 300
}

// ErrorMessage describes a failed attempt; empty on success
func (r *Result) ErrorMessage() string {
	if r.Success() {
		return ""
	}
	if r.Error != nil {
		return r.Error.Error()
	}
	if r.HTTPStatus == nil {
		return "no HTTP status code received"
	}
	if r.ResponseBody == "" {
		return fmt.Sprintf("HTTP %d", *r.HTTPStatus)
	}
	return fmt.Sprintf("HTTP %d: %s", *r.HTTPStatus, snippet(r.ResponseBody, errorSnippetSize))
}

// Response is the receiver reply body, nil when there was none
func (r *Result) Response() *string {
	if r.HTTPStatus == nil || r.ResponseBody == "" {
		return nil
	}
	body := r.ResponseBody
	return &body
}

// ResponseSummary is the short form kept on the audit record
func (r *Result) ResponseSummary() *string {
	if r.ResponseBody == "" {
		return nil
	}
	summary := snippet(r.ResponseBody, errorSnippetSize)
	if r.Truncated {
		summary = fmt.Sprintf("%s (response body truncated)", summary)
	}
	return &summary
}

// Apply records the outcome onto the entry with the given processed timestamp
func (r *Result) Apply(entry *models.SyncLogEntry, at time.Time) error {
	if r.Success() {
		return entry.RecordSuccess(r.Response(), at)
	}
	return entry.RecordFailure(r.Response(), r.ErrorMessage(), at)
}

// Attempt builds the audit record for this result
func (r *Result) Attempt(attemptNo int) *models.DeliveryAttempt {
	attempt := &models.DeliveryAttempt{
		AttemptNo:       attemptNo,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		Success:         r.Success(),
		HTTPStatus:      r.HTTPStatus,
		LatencyMs:       r.LatencyMs,
		ResponseSummary: r.ResponseSummary(),
		CreatedAt:       r.FinishedAt,
	}
	if msg := r.ErrorMessage(); msg != "" {
		attempt.ErrorMessage = &msg
	}
	return attempt
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

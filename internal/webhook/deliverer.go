// Package webhook performs single delivery attempts of sync entries
// to the analytics service. It never retries on its own.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/marminbh/eventsync-svc/internal/config"
	"github.com/marminbh/eventsync-svc/internal/models"
)

// Header names sent with every delivery
const (
	HeaderEventType = "X-Event-Type"
	HeaderSyncLogID = "X-Sync-Log-Id"
	HeaderSignature = "X-Sync-Signature"
)

// Deliverer posts sync entries to the configured receiver
type Deliverer struct {
	cfg    config.SyncConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// Option customizes a Deliverer
type Option func(*Deliverer)

// WithHTTPClient replaces the HTTP client; its Timeout is overridden by config
func WithHTTPClient(c *http.Client) Option {
	return func(d *Deliverer) { d.client = c }
}

// WithClock replaces the clock used for tokens and attempt timestamps
func WithClock(now func() time.Time) Option {
	return func(d *Deliverer) { d.now = now }
}

// NewDeliverer creates a deliverer from the sync configuration
func NewDeliverer(cfg config.SyncConfig, logger *zap.Logger, opts ...Option) *Deliverer {
	d := &Deliverer{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.WebhookTimeout <= 0 {
		d.cfg.WebhookTimeout = config.DefaultWebhookTimeout
	}
	if d.cfg.TokenTTL <= 0 {
		d.cfg.TokenTTL = config.DefaultTokenTTL
	}
	if d.cfg.MaxResponseBodySize <= 0 {
		d.cfg.MaxResponseBodySize = config.DefaultMaxResponseBodySize
	}
	d.client.Timeout = d.cfg.WebhookTimeout
	return d
}

// URL returns the receiver endpoint
func (d *Deliverer) URL() string {
	return d.cfg.AIServiceBaseURL + d.cfg.WebhookPath
}

// Deliver performs exactly one HTTP POST for the entry and classifies the outcome
func (d *Deliverer) Deliver(ctx context.Context, entry *models.SyncLogEntry) *Result {
	result := &Result{StartedAt: d.now()}
	defer func() {
		if result.FinishedAt.IsZero() {
			result.FinishedAt = d.now()
		}
	}()

	body, err := NewEnvelope(entry).Marshal()
	if err != nil {
		result.Error = err
		return result
	}

	token, err := SignDeliveryToken(entry, d.cfg.SigningSecret, d.cfg.TokenTTL, result.StartedAt)
	if err != nil {
		result.Error = err
		return result
	}

	signature, err := GenerateHMACSignature(body, d.cfg.SigningSecret)
	if err != nil {
		result.Error = fmt.Errorf("failed to generate HMAC signature: %w", err)
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.WebhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL(), bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Errorf("failed to create HTTP request: %w", err)
		return result
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(HeaderEventType, string(entry.EventType))
	req.Header.Set(HeaderSyncLogID, entry.ID.String())
	req.Header.Set(HeaderSignature, signature)

	startTime := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		result.LatencyMs = int(time.Since(startTime).Milliseconds())
		if errors.Is(err, context.DeadlineExceeded) {
			result.Error = fmt.Errorf("request timed out after %s: %w", d.cfg.WebhookTimeout, err)
		} else {
			result.Error = fmt.Errorf("request failed: %w", err)
		}
		result.FinishedAt = d.now()
		return result
	}
	defer resp.Body.Close()

	result.LatencyMs = int(time.Since(startTime).Milliseconds())
	status := resp.StatusCode
	result.HTTPStatus = &status

	// Read response body (limited to MaxResponseBodySize)
	limit := d.cfg.MaxResponseBodySize
	responseBody := make([]byte, limit+1) // +1 to detect truncation
	n, readErr := io.ReadFull(resp.Body, responseBody)
	if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
		d.logger.Warn("Failed to read webhook response body",
			zap.String("sync_log_id", entry.ID.String()),
			zap.Error(readErr),
		)
	}
	if n > limit {
		result.ResponseBody = string(responseBody[:limit])
		result.Truncated = true
	} else {
		result.ResponseBody = string(responseBody[:n])
	}
	result.FinishedAt = d.now()

	if status >= 400 && status < 500 {
		// 4xx stays retryable; surfaced so operators can spot contract problems
		d.logger.Warn("Receiver rejected webhook",
			zap.String("sync_log_id", entry.ID.String()),
			zap.String("event_type", string(entry.EventType)),
			zap.Int("http_status", status),
		)
	}

	return result
}

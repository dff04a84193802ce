package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/marminbh/eventsync-svc/internal/models"
	"github.com/marminbh/eventsync-svc/internal/report"
	"github.com/marminbh/eventsync-svc/internal/retry"
)

const (
	dateLayout          = "2006-01-02"
	defaultReportWindow = 7 * 24 * time.Hour
)

// HealthReporter builds delivery health reports
type HealthReporter interface {
	Health(ctx context.Context, from, to time.Time) (*report.HealthReport, error)
}

// BatchRunner runs one retry batch
type BatchRunner interface {
	ProcessBatch(ctx context.Context, opts retry.BatchOptions) (*retry.BatchResult, error)
}

// EventEmitter records and delivers one event
type EventEmitter interface {
	Emit(ctx context.Context, eventType, entityType, entityID string, payload any) (*models.SyncLogEntry, error)
}

// SyncHandler serves the operational sync API
type SyncHandler struct {
	Entries EntryReader
	Reports HealthReporter
	Retries BatchRunner
	Emitter EventEmitter
	Policy  retry.Policy
	Logger  *zap.Logger
	Now     func() time.Time
}

func NewSyncHandler(entries EntryReader, reports HealthReporter, retries BatchRunner, em EventEmitter, policy retry.Policy, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		Entries: entries,
		Reports: reports,
		Retries: retries,
		Emitter: em,
		Policy:  policy,
		Logger:  logger,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetHealth handles GET /api/v1/sync/health
// Query parameters:
//   - from (optional): RFC3339 or YYYY-MM-DD, default seven days before to
//   - to (optional): RFC3339 or YYYY-MM-DD (whole day), default now
func (h *SyncHandler) GetHealth(c *fiber.Ctx) error {
	to := h.Now()
	if raw := c.Query("to"); raw != "" {
		t, err := parseBound(raw, true)
		if err != nil {
			return badRequest(c, "to must be RFC3339 or YYYY-MM-DD")
		}
		to = t
	}

	from := to.Add(-defaultReportWindow)
	if raw := c.Query("from"); raw != "" {
		t, err := parseBound(raw, false)
		if err != nil {
			return badRequest(c, "from must be RFC3339 or YYYY-MM-DD")
		}
		from = t
	}

	r, err := h.Reports.Health(c.UserContext(), from, to)
	if err != nil {
		if errors.Is(err, report.ErrInvalidRange) {
			return badRequest(c, "from must not be after to")
		}
		h.Logger.Error("Failed to build sync health report", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build health report",
		})
	}
	return c.JSON(r)
}

// parseBound reads a report bound; a bare date covers the whole day
func parseBound(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return d.UTC(), nil
}

type retryRequest struct {
	Limit  int  `json:"limit"`
	Force  bool `json:"force"`
	DryRun bool `json:"dry_run"`
}

// PostRetry handles POST /api/v1/sync/retry and runs one batch synchronously
func (h *SyncHandler) PostRetry(c *fiber.Ctx) error {
	var req retryRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	if req.Limit < 0 {
		return badRequest(c, "limit must be a positive integer")
	}

	res, err := h.Retries.ProcessBatch(c.UserContext(), retry.BatchOptions{
		Limit:  req.Limit,
		Force:  req.Force,
		DryRun: req.DryRun,
	})
	if err != nil {
		h.Logger.Error("Retry batch failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Retry batch failed",
		})
	}
	return c.JSON(res)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

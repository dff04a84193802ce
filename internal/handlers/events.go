package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marminbh/eventsync-svc/internal/emitter"
	"github.com/marminbh/eventsync-svc/internal/models"
	"github.com/marminbh/eventsync-svc/internal/synclog"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// EntryReader is the read side of the sync log
type EntryReader interface {
	List(ctx context.Context, filter synclog.ListFilter) ([]models.SyncLogEntry, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*models.SyncLogEntry, error)
	Attempts(ctx context.Context, id uuid.UUID) ([]models.DeliveryAttempt, error)
}

// EntriesResponse represents the response structure for GET /entries
type EntriesResponse struct {
	Entries []EntryDTO `json:"entries"`
	HasMore bool       `json:"has_more"`
}

// EntryDTO is a sync log entry as the API shows it
type EntryDTO struct {
	ID                 string          `json:"id"`
	EventType          string          `json:"event_type"`
	EntityType         string          `json:"entity_type"`
	EntityID           string          `json:"entity_id"`
	Payload            json.RawMessage `json:"payload"`
	Status             string          `json:"status"`
	State              string          `json:"state"` // pending, succeeded, failed, permanently_failed
	RetryCount         int             `json:"retry_count"`
	Response           *string         `json:"response"`
	ErrorMessage       *string         `json:"error_message"`
	TimestampCreated   string          `json:"timestamp_created"`   // UTC ISO 8601 format
	TimestampProcessed *string         `json:"timestamp_processed"` // UTC ISO 8601 format
	NextAttemptAt      *string         `json:"next_attempt_at,omitempty"`
}

// EntryDetailResponse is an entry with its delivery history
type EntryDetailResponse struct {
	Entry    EntryDTO                 `json:"entry"`
	Attempts []models.DeliveryAttempt `json:"attempts"`
}

func (h *SyncHandler) toDTO(e *models.SyncLogEntry) EntryDTO {
	state := e.State(h.Policy.MaxRetryAttempts)
	dto := EntryDTO{
		ID:               e.ID.String(),
		EventType:        string(e.EventType),
		EntityType:       e.EntityType,
		EntityID:         e.EntityID,
		Payload:          json.RawMessage(e.Payload),
		Status:           string(e.Status),
		State:            string(state),
		RetryCount:       e.RetryCount,
		Response:         e.Response,
		ErrorMessage:     e.ErrorMessage,
		TimestampCreated: e.TimestampCreated.UTC().Format(time.RFC3339),
	}
	if e.TimestampProcessed != nil {
		processed := e.TimestampProcessed.UTC().Format(time.RFC3339)
		dto.TimestampProcessed = &processed
	}
	if state == models.StateFailed {
		next := h.Policy.NextAttemptNotBefore(e).UTC().Format(time.RFC3339)
		dto.NextAttemptAt = &next
	}
	return dto
}

// GetEntries handles GET /api/v1/sync/entries
// Query parameters:
//   - status, event_type, entity_type, entity_id (optional): exact filters
//   - from, to (optional): creation time range, RFC3339 or YYYY-MM-DD
//   - limit (optional, default 25, max 200), offset (optional, default 0)
func (h *SyncHandler) GetEntries(c *fiber.Ctx) error {
	filter := synclog.ListFilter{
		EventType:  c.Query("event_type"),
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		Limit:      defaultPageSize,
	}

	if raw := c.Query("status"); raw != "" {
		status := models.SyncStatus(raw)
		if status != models.StatusPending && status != models.StatusSuccess && status != models.StatusFailed {
			return badRequest(c, "status must be one of pending, success, failed")
		}
		filter.Status = status
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		if parsedLimit > maxPageSize {
			parsedLimit = maxPageSize
		}
		filter.Limit = parsedLimit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsedOffset, err := strconv.Atoi(offsetStr)
		if err != nil || parsedOffset < 0 {
			return badRequest(c, "offset must be a non-negative integer")
		}
		filter.Offset = parsedOffset
	}

	if raw := c.Query("from"); raw != "" {
		t, err := parseBound(raw, false)
		if err != nil {
			return badRequest(c, "from must be RFC3339 or YYYY-MM-DD")
		}
		filter.CreatedFrom = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseBound(raw, true)
		if err != nil {
			return badRequest(c, "to must be RFC3339 or YYYY-MM-DD")
		}
		filter.CreatedTo = &t
	}

	entries, hasMore, err := h.Entries.List(c.UserContext(), filter)
	if err != nil {
		h.Logger.Error("Failed to query sync log", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch entries",
		})
	}

	dtos := make([]EntryDTO, 0, len(entries))
	for i := range entries {
		dtos = append(dtos, h.toDTO(&entries[i]))
	}
	return c.JSON(EntriesResponse{Entries: dtos, HasMore: hasMore})
}

// GetEntry handles GET /api/v1/sync/entries/:id
func (h *SyncHandler) GetEntry(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "id must be a UUID")
	}

	entry, err := h.Entries.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, synclog.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "entry not found"})
		}
		h.Logger.Error("Failed to load sync entry", zap.String("sync_log_id", id.String()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch entry"})
	}

	attempts, err := h.Entries.Attempts(c.UserContext(), id)
	if err != nil {
		// the entry is still useful without its history
		h.Logger.Warn("Failed to load delivery attempts, continuing without them",
			zap.String("sync_log_id", id.String()),
			zap.Error(err),
		)
	}
	if attempts == nil {
		attempts = []models.DeliveryAttempt{}
	}

	return c.JSON(EntryDetailResponse{Entry: h.toDTO(entry), Attempts: attempts})
}

type emitRequest struct {
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
}

// PostEvent handles POST /api/v1/sync/events.
// The entry is returned even when its delivery failed; only recording errors are reported.
func (h *SyncHandler) PostEvent(c *fiber.Ctx) error {
	var req emitRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	entry, err := h.Emitter.Emit(c.UserContext(), req.EventType, req.EntityType, req.EntityID, req.Payload)
	switch {
	case errors.Is(err, emitter.ErrInvalidEvent):
		return badRequest(c, err.Error())
	case err != nil && entry == nil:
		h.Logger.Error("Failed to record sync event",
			zap.String("event_type", req.EventType),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to record event"})
	case entry == nil:
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "sync disabled"})
	}

	return c.Status(fiber.StatusCreated).JSON(h.toDTO(entry))
}

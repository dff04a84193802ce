package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/marminbh/eventsync-svc/internal/models"
)

// Envelope is the JSON body posted to the receiver
type Envelope struct {
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  string          `json:"timestamp"`
	SyncLogID  string          `json:"sync_log_id"`
}

// The timestamp is the event time, so every retry posts an identical body
func NewEnvelope(entry *models.SyncLogEntry) Envelope {
	return Envelope{
		EventType:  string(entry.EventType),
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Payload:    json.RawMessage(entry.Payload),
		Timestamp:  entry.TimestampCreated.UTC().Format(time.RFC3339),
		SyncLogID:  entry.ID.String(),
	}
}

const envelopeSchemaURL = "envelope.schema.json"

const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event_type", "entity_type", "entity_id", "payload", "timestamp"],
  "properties": {
    "event_type":  {"type": "string", "minLength": 1, "pattern": "^[a-z][a-z0-9_]*$"},
    "entity_type": {"type": "string", "minLength": 1},
    "entity_id":   {"type": "string", "minLength": 1},
    "payload":     {"type": "object"},
    "timestamp":   {"type": "string", "format": "date-time"},
    "sync_log_id": {"type": "string"}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadEnvelopeSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
		if err != nil {
			schemaErr = fmt.Errorf("failed to parse envelope schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		c.AssertFormat()
		if err := c.AddResource(envelopeSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("failed to add envelope schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(envelopeSchemaURL)
	})
	return compiledSchema, schemaErr
}

// Marshal serializes the envelope and validates it against the receiver contract
func (e Envelope) Marshal() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook envelope: %w", err)
	}
	if err := ValidateEnvelope(body); err != nil {
		return nil, err
	}
	return body, nil
}

// ValidateEnvelope checks a serialized envelope against the receiver contract
func ValidateEnvelope(body []byte) error {
	schema, err := loadEnvelopeSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("envelope is not valid JSON: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("envelope does not match receiver contract: %w", err)
	}
	return nil
}

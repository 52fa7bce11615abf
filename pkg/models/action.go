package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action is a single generated API operation with its declared input and
// output schemas. Schemas are stored as raw JSON documents; the inference
// engine parses them into SchemaNode trees on demand.
type Action struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	IntegrationID uuid.UUID       `json:"integration_id"`
	Name          string          `json:"name"`
	Method        string          `json:"method"`
	URL           string          `json:"url"`
	Description   string          `json:"description"`
	InputSchema   json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema  json.RawMessage `json:"output_schema,omitempty"`
	SourceURLs    []string        `json:"source_urls,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

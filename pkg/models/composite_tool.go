package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Composite tool routing modes.
const (
	RoutingModeSequential  = "sequential"
	RoutingModeConditional = "conditional"
)

// CompositeTool bundles several actions behind one tool surface with a
// unified input schema.
type CompositeTool struct {
	ID                 uuid.UUID       `json:"id"`
	TenantID           uuid.UUID       `json:"tenant_id"`
	IntegrationID      uuid.UUID       `json:"integration_id"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	RoutingMode        string          `json:"routing_mode"`
	UnifiedInputSchema json.RawMessage `json:"unified_input_schema,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// CompositeOperation links a composite tool to one of its member actions.
type CompositeOperation struct {
	ID              uuid.UUID `json:"id"`
	CompositeToolID uuid.UUID `json:"composite_tool_id"`
	ActionID        uuid.UUID `json:"action_id"`
	Name            string    `json:"name"`
	Position        int       `json:"position"`
}

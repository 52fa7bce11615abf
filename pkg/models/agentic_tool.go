package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Agentic tool allocation modes. The allocation document is a tagged union
// keyed by "mode".
const (
	AllocationModeParameterInterpreter = "parameter_interpreter"
	AllocationModeAutonomousAgent      = "autonomous_agent"
)

// AgenticTool is a delegating tool whose allocation document names the
// actions it may call at runtime.
type AgenticTool struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	IntegrationID uuid.UUID       `json:"integration_id"`
	Name          string          `json:"name"`
	Allocation    json.RawMessage `json:"allocation"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ParseAllocation decodes the tool's allocation document.
func (t *AgenticTool) ParseAllocation() (*ToolAllocation, error) {
	var alloc ToolAllocation
	if err := json.Unmarshal(t.Allocation, &alloc); err != nil {
		return nil, fmt.Errorf("failed to parse allocation for tool %s: %w", t.ID, err)
	}
	return &alloc, nil
}

// ToolAllocation is the decoded form of the allocation union. Exactly one
// variant is non-nil, matching Mode.
type ToolAllocation struct {
	Mode                 string
	ParameterInterpreter *ParameterInterpreterAllocation
	AutonomousAgent      *AutonomousAgentAllocation
}

// UnmarshalJSON probes the "mode" tag and decodes the matching variant.
func (a *ToolAllocation) UnmarshalJSON(data []byte) error {
	var probe struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("allocation must be a JSON object: %w", err)
	}

	a.Mode = probe.Mode
	switch probe.Mode {
	case AllocationModeParameterInterpreter:
		a.ParameterInterpreter = &ParameterInterpreterAllocation{}
		return json.Unmarshal(data, a.ParameterInterpreter)
	case AllocationModeAutonomousAgent:
		a.AutonomousAgent = &AutonomousAgentAllocation{}
		return json.Unmarshal(data, a.AutonomousAgent)
	default:
		return fmt.Errorf("unknown allocation mode %q", probe.Mode)
	}
}

// MarshalJSON embeds the active variant's fields alongside the mode tag.
func (a ToolAllocation) MarshalJSON() ([]byte, error) {
	switch a.Mode {
	case AllocationModeParameterInterpreter:
		return json.Marshal(struct {
			Mode string `json:"mode"`
			*ParameterInterpreterAllocation
		}{a.Mode, a.ParameterInterpreter})
	case AllocationModeAutonomousAgent:
		return json.Marshal(struct {
			Mode string `json:"mode"`
			*AutonomousAgentAllocation
		}{a.Mode, a.AutonomousAgent})
	default:
		return nil, fmt.Errorf("unknown allocation mode %q", a.Mode)
	}
}

// ParameterInterpreterAllocation routes calls to fixed target actions. It
// carries no per-action description text.
type ParameterInterpreterAllocation struct {
	TargetActions []TargetAction `json:"targetActions"`
}

// TargetAction references an action by id.
type TargetAction struct {
	ActionID string `json:"actionId"`
}

// AutonomousAgentAllocation lets the tool choose among available actions,
// each advertised with a name and description.
type AutonomousAgentAllocation struct {
	AvailableTools []AvailableTool `json:"availableTools"`
}

// AvailableTool is one action entry in an autonomous agent allocation.
type AvailableTool struct {
	ActionID    string `json:"actionId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Proposal status constants. Rejected, expired, and reverted are terminal.
const (
	ProposalStatusPending  = "pending"
	ProposalStatusApproved = "approved"
	ProposalStatusRejected = "rejected"
	ProposalStatusExpired  = "expired"
	ProposalStatusReverted = "reverted"
)

// Proposal severity constants, ordered info < warning < breaking.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityBreaking = "breaking"
)

// Proposal source constants.
const (
	ProposalSourceInference = "inference"
	ProposalSourceRescrape  = "rescrape"
)

// Schema direction constants.
const (
	DirectionInput  = "input"
	DirectionOutput = "output"
)

// Change type constants, one per structural schema edit the inference engine
// can produce.
const (
	ChangeTypeFieldMadeNullable  = "field_made_nullable"
	ChangeTypeFieldTypeChanged   = "field_type_changed"
	ChangeTypeFieldAdded         = "field_added"
	ChangeTypeFieldMadeOptional  = "field_made_optional"
	ChangeTypeEnumValueAdded     = "enum_value_added"
	ChangeTypeFieldAddedRequired = "field_added_required"
)

// Affected tool type constants.
const (
	ToolTypeAction    = "action"
	ToolTypeComposite = "composite"
	ToolTypeAgentic   = "agentic"
)

// Description suggestion status constants.
const (
	SuggestionStatusPending  = "pending"
	SuggestionStatusAccepted = "accepted"
	SuggestionStatusSkipped  = "skipped"
)

// proposalTransitions is the full transition table. Absence means the
// transition is invalid.
var proposalTransitions = map[string]map[string]bool{
	ProposalStatusPending: {
		ProposalStatusApproved: true,
		ProposalStatusRejected: true,
		ProposalStatusExpired:  true,
	},
	ProposalStatusApproved: {
		ProposalStatusReverted: true,
	},
}

// CanTransitionProposal reports whether a status change is in the transition
// table.
func CanTransitionProposal(from, to string) bool {
	return proposalTransitions[from][to]
}

// IsTerminalProposalStatus reports whether a status has no outbound
// transitions.
func IsTerminalProposalStatus(status string) bool {
	return len(proposalTransitions[status]) == 0
}

var severityRank = map[string]int{
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityBreaking: 3,
}

// SeverityRank returns the ordinal rank of a severity (unknown ranks lowest).
func SeverityRank(severity string) int {
	return severityRank[severity]
}

// MaxSeverity returns the higher-ranked of two severities.
func MaxSeverity(a, b string) string {
	if SeverityRank(b) > SeverityRank(a) {
		return b
	}
	return a
}

// MaintenanceProposal is the unit of review: a bundle of inferred schema edits
// addressing one or more drift reports for a single action.
type MaintenanceProposal struct {
	ID            uuid.UUID `json:"id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	IntegrationID uuid.UUID `json:"integration_id"`
	ActionID      uuid.UUID `json:"action_id"`

	Status   string `json:"status"`
	Severity string `json:"severity"`
	Source   string `json:"source"`

	// Frozen copies of the live schemas taken at creation time; the revert
	// target.
	CurrentInputSchema  json.RawMessage `json:"current_input_schema,omitempty"`
	CurrentOutputSchema json.RawMessage `json:"current_output_schema,omitempty"`

	// Each direction is nil unless at least one change targets it.
	ProposedInputSchema  json.RawMessage `json:"proposed_input_schema,omitempty"`
	ProposedOutputSchema json.RawMessage `json:"proposed_output_schema,omitempty"`

	Changes   []ProposalChange `json:"changes"`
	Reasoning string           `json:"reasoning"`

	DriftReportIDs []uuid.UUID    `json:"drift_report_ids"`
	AffectedTools  []AffectedTool `json:"affected_tools"`

	// Populated only after approval by the description cascade.
	DescriptionSuggestions []DescriptionSuggestion `json:"description_suggestions,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
	ExpiredAt  *time.Time `json:"expired_at,omitempty"`
	RevertedAt *time.Time `json:"reverted_at,omitempty"`
	AppliedAt  *time.Time `json:"applied_at,omitempty"`
}

// ProposalChange is one inferred edit applied to the proposed schema.
type ProposalChange struct {
	Direction     string          `json:"direction"`
	FieldPath     string          `json:"field_path"`
	ChangeType    string          `json:"change_type"`
	Description   string          `json:"description"`
	DriftReportID uuid.UUID       `json:"drift_report_id"`
	BeforeValue   json.RawMessage `json:"before_value,omitempty"`
	AfterValue    json.RawMessage `json:"after_value,omitempty"`
}

// AffectedTool is a denormalized point-in-time reference to a tool that
// depends on the proposal's action. Names may drift after creation.
type AffectedTool struct {
	ToolType string    `json:"tool_type"`
	ToolID   uuid.UUID `json:"tool_id"`
	ToolName string    `json:"tool_name"`
}

// DescriptionSuggestion is one proposed description-text update for an
// affected tool. Each entry's status transitions independently.
type DescriptionSuggestion struct {
	ToolType             string    `json:"tool_type"`
	ToolID               uuid.UUID `json:"tool_id"`
	ToolName             string    `json:"tool_name"`
	CurrentDescription   string    `json:"current_description"`
	SuggestedDescription string    `json:"suggested_description"`
	Status               string    `json:"status"`
}

// DescriptionDecision is a reviewer's accept/skip verdict for one suggestion.
type DescriptionDecision struct {
	ToolID uuid.UUID `json:"tool_id"`
	Accept bool      `json:"accept"`
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Drift report status constants. Detected and acknowledged reports are open;
// resolved reports are closed.
const (
	DriftStatusDetected     = "detected"
	DriftStatusAcknowledged = "acknowledged"
	DriftStatusResolved     = "resolved"
)

// Issue codes emitted by the runtime validator, one per mismatch class.
const (
	IssueTypeMismatch     = "type_mismatch"
	IssueUnexpectedField  = "unexpected_field"
	IssueMissingRequired  = "missing_required_field"
	IssueInvalidEnumValue = "invalid_enum_value"
)

// DriftReport records one observed divergence between an action's declared
// schema and live traffic.
type DriftReport struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	IntegrationID uuid.UUID       `json:"integration_id"`
	ActionID      uuid.UUID       `json:"action_id"`
	Direction     string          `json:"direction"`
	IssueCode     string          `json:"issue_code"`
	FieldPath     string          `json:"field_path"`
	ExpectedType  string          `json:"expected_type,omitempty"`
	ReceivedType  string          `json:"received_type,omitempty"`
	ReceivedValue json.RawMessage `json:"received_value,omitempty"`
	Severity      string          `json:"severity"`
	Status        string          `json:"status"`
	DetectedAt    time.Time       `json:"detected_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

// IsOpen reports whether the drift is still awaiting remediation.
func (d *DriftReport) IsOpen() bool {
	return d.Status == DriftStatusDetected || d.Status == DriftStatusAcknowledged
}

// Fingerprint identifies the drift's shape regardless of how often it was
// observed. Reports with the same fingerprint describe the same problem.
// Direction is part of the fingerprint: the same code and path can drift
// independently on input and output.
func (d *DriftReport) Fingerprint() string {
	return d.Direction + "|" + d.IssueCode + "|" + d.FieldPath
}

// ValidationFailure is an aggregated count of runtime validation errors for
// one field of one action, used to corroborate drift reports during inference.
type ValidationFailure struct {
	ActionID      uuid.UUID       `json:"action_id"`
	Direction     string          `json:"direction"`
	IssueCode     string          `json:"issue_code"`
	FieldPath     string          `json:"field_path"`
	ExpectedType  string          `json:"expected_type,omitempty"`
	ReceivedType  string          `json:"received_type,omitempty"`
	ReceivedValue json.RawMessage `json:"received_value,omitempty"`
	FailureCount  int             `json:"failure_count"`
}

// Fingerprint matches the drift report fingerprint format so failures can be
// joined against reports.
func (v *ValidationFailure) Fingerprint() string {
	return v.Direction + "|" + v.IssueCode + "|" + v.FieldPath
}

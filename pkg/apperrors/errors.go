// Package apperrors defines the error taxonomy shared across the engine.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
)

// InvalidTransitionError reports a proposal status change that is not in the
// transition table, naming the current and requested states.
type InvalidTransitionError struct {
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: proposal is %s, requested %s", e.Current, e.Requested)
}

// SchemaApplicationError reports a failed transactional write during proposal
// approval. The proposal remains pending.
type SchemaApplicationError struct {
	ProposalID uuid.UUID
	Err        error
}

func (e *SchemaApplicationError) Error() string {
	return fmt.Sprintf("failed to apply schema changes for proposal %s: %v", e.ProposalID, e.Err)
}

func (e *SchemaApplicationError) Unwrap() error { return e.Err }

// RevertError reports a failed transactional write during proposal revert.
// The proposal remains approved.
type RevertError struct {
	ProposalID uuid.UUID
	Err        error
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("failed to revert proposal %s: %v", e.ProposalID, e.Err)
}

func (e *RevertError) Unwrap() error { return e.Err }

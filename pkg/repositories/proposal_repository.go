package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/skein-ai/skein-engine/pkg/apperrors"
	"github.com/skein-ai/skein-engine/pkg/database"
	"github.com/skein-ai/skein-engine/pkg/models"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pgUniqueViolation = "23505"

// ProposalFilter narrows proposal listings.
type ProposalFilter struct {
	Status        string
	Severity      string
	ActionID      *uuid.UUID
	IntegrationID *uuid.UUID
	Limit         int
	Offset        int
}

// MaintenanceProposalRepository provides data access for maintenance
// proposals.
type MaintenanceProposalRepository interface {
	// Create inserts a proposal. Returns apperrors.ErrConflict when a pending
	// proposal already exists for the same action (partial unique index).
	Create(ctx context.Context, proposal *models.MaintenanceProposal) error

	// GetByID returns a single proposal under the given tenant, or nil.
	GetByID(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error)

	// List returns proposals matching the filter, newest first.
	List(ctx context.Context, tenantID uuid.UUID, filter *ProposalFilter) ([]*models.MaintenanceProposal, error)

	// ListPendingBySeverity returns an integration's pending proposals at or
	// below the given severity ceiling.
	ListPendingBySeverity(ctx context.Context, integrationID uuid.UUID, maxSeverity string, limit int) ([]*models.MaintenanceProposal, error)

	// CountByStatus returns proposal counts grouped by status.
	CountByStatus(ctx context.Context, tenantID uuid.UUID) (map[string]int, error)

	// HasPendingForAction reports whether a pending proposal exists for the
	// action.
	HasPendingForAction(ctx context.Context, actionID uuid.UUID) (bool, error)

	// UpdateStatus transitions a proposal from one status to another, setting
	// the transition's timestamp column(s). Fails if the proposal is no
	// longer in the expected prior status.
	UpdateStatus(ctx context.Context, proposalID uuid.UUID, from, to string, at time.Time) error

	// SetDescriptionSuggestions persists the full suggestion list in one
	// write.
	SetDescriptionSuggestions(ctx context.Context, proposalID uuid.UUID, suggestions []models.DescriptionSuggestion) error
}

type maintenanceProposalRepository struct{}

// NewMaintenanceProposalRepository creates a new MaintenanceProposalRepository.
func NewMaintenanceProposalRepository() MaintenanceProposalRepository {
	return &maintenanceProposalRepository{}
}

var _ MaintenanceProposalRepository = (*maintenanceProposalRepository)(nil)

const proposalColumns = `id, tenant_id, integration_id, action_id, status, severity, source,
	       current_input_schema, current_output_schema,
	       proposed_input_schema, proposed_output_schema,
	       changes, reasoning, drift_report_ids, affected_tools, description_suggestions,
	       created_at, approved_at, rejected_at, expired_at, reverted_at, applied_at`

func (r *maintenanceProposalRepository) Create(ctx context.Context, proposal *models.MaintenanceProposal) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	changes, err := marshalJSONB(proposal.Changes)
	if err != nil {
		return err
	}
	driftIDs, err := marshalJSONB(proposal.DriftReportIDs)
	if err != nil {
		return err
	}
	affected, err := marshalJSONB(proposal.AffectedTools)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO engine_maintenance_proposals (
			tenant_id, integration_id, action_id, status, severity, source,
			current_input_schema, current_output_schema,
			proposed_input_schema, proposed_output_schema,
			changes, reasoning, drift_report_ids, affected_tools, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at`

	err = scope.Conn.QueryRow(ctx, query,
		proposal.TenantID,
		proposal.IntegrationID,
		proposal.ActionID,
		proposal.Status,
		proposal.Severity,
		proposal.Source,
		nullableJSON(proposal.CurrentInputSchema),
		nullableJSON(proposal.CurrentOutputSchema),
		nullableJSON(proposal.ProposedInputSchema),
		nullableJSON(proposal.ProposedOutputSchema),
		changes,
		proposal.Reasoning,
		driftIDs,
		affected,
		time.Now(),
	).Scan(&proposal.ID, &proposal.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("pending proposal already exists for action %s: %w",
				proposal.ActionID, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create proposal: %w", err)
	}

	return nil
}

func (r *maintenanceProposalRepository) GetByID(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + proposalColumns + `
		FROM engine_maintenance_proposals
		WHERE id = $1 AND tenant_id = $2`

	row := scope.Conn.QueryRow(ctx, query, proposalID, tenantID)
	proposal, err := scanProposal(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return proposal, nil
}

func (r *maintenanceProposalRepository) List(ctx context.Context, tenantID uuid.UUID, filter *ProposalFilter) ([]*models.MaintenanceProposal, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if filter == nil {
		filter = &ProposalFilter{}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + proposalColumns + `
		FROM engine_maintenance_proposals
		WHERE tenant_id = $1
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR severity = $3)
		  AND ($4::uuid IS NULL OR action_id = $4)
		  AND ($5::uuid IS NULL OR integration_id = $5)
		ORDER BY created_at DESC
		LIMIT $6 OFFSET $7`

	rows, err := scope.Conn.Query(ctx, query, tenantID,
		filter.Status, filter.Severity, filter.ActionID, filter.IntegrationID,
		limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer rows.Close()

	return scanProposals(rows)
}

func (r *maintenanceProposalRepository) ListPendingBySeverity(ctx context.Context, integrationID uuid.UUID, maxSeverity string, limit int) ([]*models.MaintenanceProposal, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	severities := severitiesUpTo(maxSeverity)
	if limit <= 0 {
		limit = 500
	}

	query := `
		SELECT ` + proposalColumns + `
		FROM engine_maintenance_proposals
		WHERE integration_id = $1 AND status = $2 AND severity = ANY($3)
		ORDER BY created_at ASC
		LIMIT $4`

	rows, err := scope.Conn.Query(ctx, query, integrationID, models.ProposalStatusPending, severities, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending proposals: %w", err)
	}
	defer rows.Close()

	return scanProposals(rows)
}

func (r *maintenanceProposalRepository) CountByStatus(ctx context.Context, tenantID uuid.UUID) (map[string]int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT status, COUNT(*) as count
		FROM engine_maintenance_proposals
		WHERE tenant_id = $1
		GROUP BY status`

	rows, err := scope.Conn.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count proposals: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}

	return counts, nil
}

func (r *maintenanceProposalRepository) HasPendingForAction(ctx context.Context, actionID uuid.UUID) (bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM engine_maintenance_proposals
			WHERE action_id = $1 AND status = $2
		)`

	var exists bool
	if err := scope.Conn.QueryRow(ctx, query, actionID, models.ProposalStatusPending).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check pending proposal: %w", err)
	}

	return exists, nil
}

func (r *maintenanceProposalRepository) UpdateStatus(ctx context.Context, proposalID uuid.UUID, from, to string, at time.Time) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	var tsColumn string
	switch to {
	case models.ProposalStatusApproved:
		// Approval both approves and applies in one transition.
		tsColumn = "approved_at = $3, applied_at = $3"
	case models.ProposalStatusRejected:
		tsColumn = "rejected_at = $3"
	case models.ProposalStatusExpired:
		tsColumn = "expired_at = $3"
	case models.ProposalStatusReverted:
		tsColumn = "reverted_at = $3"
	default:
		return fmt.Errorf("unknown target status: %s", to)
	}

	query := `
		UPDATE engine_maintenance_proposals
		SET status = $2, ` + tsColumn + `
		WHERE id = $1 AND status = $4`

	result, err := scope.Conn.Exec(ctx, query, proposalID, to, at, from)
	if err != nil {
		return fmt.Errorf("failed to update proposal status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("proposal %s is no longer %s", proposalID, from)
	}

	return nil
}

func (r *maintenanceProposalRepository) SetDescriptionSuggestions(ctx context.Context, proposalID uuid.UUID, suggestions []models.DescriptionSuggestion) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	payload, err := marshalJSONB(suggestions)
	if err != nil {
		return err
	}

	query := `
		UPDATE engine_maintenance_proposals
		SET description_suggestions = $2
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query, proposalID, payload)
	if err != nil {
		return fmt.Errorf("failed to set description suggestions: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("proposal not found")
	}

	return nil
}

// severitiesUpTo expands a severity ceiling into the severities it admits.
func severitiesUpTo(maxSeverity string) []string {
	switch maxSeverity {
	case models.SeverityInfo:
		return []string{models.SeverityInfo}
	case models.SeverityWarning:
		return []string{models.SeverityInfo, models.SeverityWarning}
	default:
		return []string{models.SeverityInfo, models.SeverityWarning, models.SeverityBreaking}
	}
}

func scanProposals(rows pgx.Rows) ([]*models.MaintenanceProposal, error) {
	var proposals []*models.MaintenanceProposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, proposal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proposals: %w", err)
	}

	return proposals, nil
}

func scanProposal(row pgx.Row) (*models.MaintenanceProposal, error) {
	var p models.MaintenanceProposal
	var reasoning *string
	var currentIn, currentOut, proposedIn, proposedOut []byte
	var changes, driftIDs, affected, suggestions []byte

	err := row.Scan(
		&p.ID,
		&p.TenantID,
		&p.IntegrationID,
		&p.ActionID,
		&p.Status,
		&p.Severity,
		&p.Source,
		&currentIn,
		&currentOut,
		&proposedIn,
		&proposedOut,
		&changes,
		&reasoning,
		&driftIDs,
		&affected,
		&suggestions,
		&p.CreatedAt,
		&p.ApprovedAt,
		&p.RejectedAt,
		&p.ExpiredAt,
		&p.RevertedAt,
		&p.AppliedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan proposal: %w", err)
	}

	if reasoning != nil {
		p.Reasoning = *reasoning
	}
	if len(currentIn) > 0 {
		p.CurrentInputSchema = currentIn
	}
	if len(currentOut) > 0 {
		p.CurrentOutputSchema = currentOut
	}
	if len(proposedIn) > 0 {
		p.ProposedInputSchema = proposedIn
	}
	if len(proposedOut) > 0 {
		p.ProposedOutputSchema = proposedOut
	}
	if err := unmarshalJSONB(changes, &p.Changes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
	}
	if err := unmarshalJSONB(driftIDs, &p.DriftReportIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal drift_report_ids: %w", err)
	}
	if err := unmarshalJSONB(affected, &p.AffectedTools); err != nil {
		return nil, fmt.Errorf("failed to unmarshal affected_tools: %w", err)
	}
	if err := unmarshalJSONB(suggestions, &p.DescriptionSuggestions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal description_suggestions: %w", err)
	}

	return &p, nil
}

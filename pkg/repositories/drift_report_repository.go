package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/skein-ai/skein-engine/pkg/database"
	"github.com/skein-ai/skein-engine/pkg/models"
)

// DriftReportRepository provides read access to drift reports and their raw
// failure statistics, plus the status flips performed on approval and revert.
type DriftReportRepository interface {
	// ListUnresolvedByIntegration returns open drift reports for an integration.
	ListUnresolvedByIntegration(ctx context.Context, integrationID uuid.UUID) ([]*models.DriftReport, error)

	// ListByIDs returns drift reports by id, in no particular order.
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.DriftReport, error)

	// MarkResolved transitions the given reports to resolved. Only reports
	// currently detected or acknowledged are touched.
	MarkResolved(ctx context.Context, ids []uuid.UUID, resolvedAt time.Time) error

	// Reopen transitions the given reports back to detected, clearing their
	// resolved timestamp.
	Reopen(ctx context.Context, ids []uuid.UUID) error

	// ListFailuresByAction returns the raw validation failure statistics
	// recorded for an action.
	ListFailuresByAction(ctx context.Context, actionID uuid.UUID) ([]*models.ValidationFailure, error)
}

type driftReportRepository struct{}

// NewDriftReportRepository creates a new DriftReportRepository.
func NewDriftReportRepository() DriftReportRepository {
	return &driftReportRepository{}
}

var _ DriftReportRepository = (*driftReportRepository)(nil)

const driftReportColumns = `id, tenant_id, integration_id, action_id, issue_code, field_path,
	       direction, severity, status, detected_at, resolved_at`

func (r *driftReportRepository) ListUnresolvedByIntegration(ctx context.Context, integrationID uuid.UUID) ([]*models.DriftReport, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + driftReportColumns + `
		FROM engine_drift_reports
		WHERE integration_id = $1 AND status IN ($2, $3)
		ORDER BY detected_at ASC`

	rows, err := scope.Conn.Query(ctx, query, integrationID,
		models.DriftStatusDetected, models.DriftStatusAcknowledged)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved drift reports: %w", err)
	}
	defer rows.Close()

	return scanDriftReports(rows)
}

func (r *driftReportRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.DriftReport, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + driftReportColumns + `
		FROM engine_drift_reports
		WHERE id = ANY($1)`

	rows, err := scope.Conn.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list drift reports by ids: %w", err)
	}
	defer rows.Close()

	return scanDriftReports(rows)
}

func (r *driftReportRepository) MarkResolved(ctx context.Context, ids []uuid.UUID, resolvedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE engine_drift_reports
		SET status = $2, resolved_at = $3
		WHERE id = ANY($1) AND status IN ($4, $5)`

	_, err := scope.Conn.Exec(ctx, query, ids, models.DriftStatusResolved, resolvedAt,
		models.DriftStatusDetected, models.DriftStatusAcknowledged)
	if err != nil {
		return fmt.Errorf("failed to resolve drift reports: %w", err)
	}

	return nil
}

func (r *driftReportRepository) Reopen(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE engine_drift_reports
		SET status = $2, resolved_at = NULL
		WHERE id = ANY($1)`

	_, err := scope.Conn.Exec(ctx, query, ids, models.DriftStatusDetected)
	if err != nil {
		return fmt.Errorf("failed to reopen drift reports: %w", err)
	}

	return nil
}

func (r *driftReportRepository) ListFailuresByAction(ctx context.Context, actionID uuid.UUID) ([]*models.ValidationFailure, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT action_id, direction, issue_code, field_path,
		       expected_type, received_type, received_value, failure_count
		FROM engine_validation_failures
		WHERE action_id = $1
		ORDER BY failure_count DESC`

	rows, err := scope.Conn.Query(ctx, query, actionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation failures: %w", err)
	}
	defer rows.Close()

	var failures []*models.ValidationFailure
	for rows.Next() {
		var f models.ValidationFailure
		var expectedType, receivedType *string
		var receivedValue []byte

		err := rows.Scan(
			&f.ActionID,
			&f.Direction,
			&f.IssueCode,
			&f.FieldPath,
			&expectedType,
			&receivedType,
			&receivedValue,
			&f.FailureCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan validation failure: %w", err)
		}

		if expectedType != nil {
			f.ExpectedType = *expectedType
		}
		if receivedType != nil {
			f.ReceivedType = *receivedType
		}
		if len(receivedValue) > 0 {
			f.ReceivedValue = receivedValue
		}

		failures = append(failures, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating validation failures: %w", err)
	}

	return failures, nil
}

func scanDriftReports(rows pgx.Rows) ([]*models.DriftReport, error) {
	var reports []*models.DriftReport
	for rows.Next() {
		var d models.DriftReport
		err := rows.Scan(
			&d.ID,
			&d.TenantID,
			&d.IntegrationID,
			&d.ActionID,
			&d.IssueCode,
			&d.FieldPath,
			&d.Direction,
			&d.Severity,
			&d.Status,
			&d.DetectedAt,
			&d.ResolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan drift report: %w", err)
		}
		reports = append(reports, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating drift reports: %w", err)
	}

	return reports, nil
}

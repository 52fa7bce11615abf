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

// CompositeToolRepository provides data access for composite tools and their
// operation join records.
type CompositeToolRepository interface {
	// GetByID returns a single composite tool, or nil if not found.
	GetByID(ctx context.Context, toolID uuid.UUID) (*models.CompositeTool, error)

	// ListByActionID returns every composite tool with an operation
	// referencing the action, deduplicated.
	ListByActionID(ctx context.Context, actionID uuid.UUID) ([]*models.CompositeTool, error)

	// ListOperations returns a composite tool's operations ordered by
	// position.
	ListOperations(ctx context.Context, toolID uuid.UUID) ([]*models.CompositeOperation, error)

	// UpdateDescription writes the composite tool's description.
	UpdateDescription(ctx context.Context, toolID uuid.UUID, description string) error
}

type compositeToolRepository struct{}

// NewCompositeToolRepository creates a new CompositeToolRepository.
func NewCompositeToolRepository() CompositeToolRepository {
	return &compositeToolRepository{}
}

var _ CompositeToolRepository = (*compositeToolRepository)(nil)

const compositeToolColumns = `id, tenant_id, integration_id, name, description, routing_mode,
	       unified_input_schema, created_at, updated_at`

func (r *compositeToolRepository) GetByID(ctx context.Context, toolID uuid.UUID) (*models.CompositeTool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + compositeToolColumns + `
		FROM engine_composite_tools
		WHERE id = $1`

	row := scope.Conn.QueryRow(ctx, query, toolID)
	tool, err := scanCompositeTool(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return tool, nil
}

func (r *compositeToolRepository) ListByActionID(ctx context.Context, actionID uuid.UUID) ([]*models.CompositeTool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT DISTINCT t.id, t.tenant_id, t.integration_id, t.name, t.description,
		       t.routing_mode, t.unified_input_schema, t.created_at, t.updated_at
		FROM engine_composite_tools t
		JOIN engine_composite_operations op ON op.composite_tool_id = t.id
		WHERE op.action_id = $1
		ORDER BY t.name`

	rows, err := scope.Conn.Query(ctx, query, actionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list composite tools by action: %w", err)
	}
	defer rows.Close()

	var tools []*models.CompositeTool
	for rows.Next() {
		tool, err := scanCompositeTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating composite tools: %w", err)
	}

	return tools, nil
}

func (r *compositeToolRepository) ListOperations(ctx context.Context, toolID uuid.UUID) ([]*models.CompositeOperation, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, composite_tool_id, action_id, name, position
		FROM engine_composite_operations
		WHERE composite_tool_id = $1
		ORDER BY position ASC`

	rows, err := scope.Conn.Query(ctx, query, toolID)
	if err != nil {
		return nil, fmt.Errorf("failed to list composite operations: %w", err)
	}
	defer rows.Close()

	var operations []*models.CompositeOperation
	for rows.Next() {
		var op models.CompositeOperation
		if err := rows.Scan(&op.ID, &op.CompositeToolID, &op.ActionID, &op.Name, &op.Position); err != nil {
			return nil, fmt.Errorf("failed to scan composite operation: %w", err)
		}
		operations = append(operations, &op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating composite operations: %w", err)
	}

	return operations, nil
}

func (r *compositeToolRepository) UpdateDescription(ctx context.Context, toolID uuid.UUID, description string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE engine_composite_tools
		SET description = $2, updated_at = $3
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query, toolID, nullableString(description), time.Now())
	if err != nil {
		return fmt.Errorf("failed to update composite tool description: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("composite tool not found")
	}

	return nil
}

func scanCompositeTool(row pgx.Row) (*models.CompositeTool, error) {
	var t models.CompositeTool
	var description *string
	var unifiedSchema []byte

	err := row.Scan(
		&t.ID,
		&t.TenantID,
		&t.IntegrationID,
		&t.Name,
		&description,
		&t.RoutingMode,
		&unifiedSchema,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan composite tool: %w", err)
	}

	if description != nil {
		t.Description = *description
	}
	if len(unifiedSchema) > 0 {
		t.UnifiedInputSchema = unifiedSchema
	}

	return &t, nil
}

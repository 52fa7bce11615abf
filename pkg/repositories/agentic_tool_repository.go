package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/skein-ai/skein-engine/pkg/database"
	"github.com/skein-ai/skein-engine/pkg/models"
)

// AgenticToolRepository provides data access for agentic tools.
type AgenticToolRepository interface {
	// GetByID returns a single agentic tool, or nil if not found.
	GetByID(ctx context.Context, toolID uuid.UUID) (*models.AgenticTool, error)

	// ListByIntegration returns every agentic tool for an integration. The
	// affected-tool resolver scans each tool's allocation document in memory.
	ListByIntegration(ctx context.Context, integrationID uuid.UUID) ([]*models.AgenticTool, error)

	// UpdateAllocation replaces the tool's allocation document.
	UpdateAllocation(ctx context.Context, toolID uuid.UUID, allocation json.RawMessage) error
}

type agenticToolRepository struct{}

// NewAgenticToolRepository creates a new AgenticToolRepository.
func NewAgenticToolRepository() AgenticToolRepository {
	return &agenticToolRepository{}
}

var _ AgenticToolRepository = (*agenticToolRepository)(nil)

func (r *agenticToolRepository) GetByID(ctx context.Context, toolID uuid.UUID) (*models.AgenticTool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, tenant_id, integration_id, name, allocation, created_at, updated_at
		FROM engine_agentic_tools
		WHERE id = $1`

	var t models.AgenticTool
	var allocation []byte
	err := scope.Conn.QueryRow(ctx, query, toolID).Scan(
		&t.ID, &t.TenantID, &t.IntegrationID, &t.Name, &allocation, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get agentic tool: %w", err)
	}

	t.Allocation = allocation
	return &t, nil
}

func (r *agenticToolRepository) ListByIntegration(ctx context.Context, integrationID uuid.UUID) ([]*models.AgenticTool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, tenant_id, integration_id, name, allocation, created_at, updated_at
		FROM engine_agentic_tools
		WHERE integration_id = $1
		ORDER BY name`

	rows, err := scope.Conn.Query(ctx, query, integrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agentic tools: %w", err)
	}
	defer rows.Close()

	var tools []*models.AgenticTool
	for rows.Next() {
		var t models.AgenticTool
		var allocation []byte
		if err := rows.Scan(&t.ID, &t.TenantID, &t.IntegrationID, &t.Name, &allocation, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agentic tool: %w", err)
		}
		t.Allocation = allocation
		tools = append(tools, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agentic tools: %w", err)
	}

	return tools, nil
}

func (r *agenticToolRepository) UpdateAllocation(ctx context.Context, toolID uuid.UUID, allocation json.RawMessage) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE engine_agentic_tools
		SET allocation = $2, updated_at = $3
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query, toolID, []byte(allocation), time.Now())
	if err != nil {
		return fmt.Errorf("failed to update agentic tool allocation: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("agentic tool not found")
	}

	return nil
}

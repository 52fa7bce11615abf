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

// ActionRepository provides data access for actions, including the schema
// writes performed by proposal approval and revert.
type ActionRepository interface {
	// GetByID returns a single action, or nil if not found.
	GetByID(ctx context.Context, actionID uuid.UUID) (*models.Action, error)

	// ApplyProposedSchemas writes the non-nil proposed schemas onto the
	// action, leaving a direction untouched when its schema is nil.
	ApplyProposedSchemas(ctx context.Context, actionID uuid.UUID, inputSchema, outputSchema json.RawMessage) error

	// RestoreSchemas overwrites both schemas with the given snapshots,
	// including restoring NULL where a snapshot is empty.
	RestoreSchemas(ctx context.Context, actionID uuid.UUID, inputSchema, outputSchema json.RawMessage) error

	// UpdateDescription writes the action's tool-facing description.
	UpdateDescription(ctx context.Context, actionID uuid.UUID, description string) error
}

type actionRepository struct{}

// NewActionRepository creates a new ActionRepository.
func NewActionRepository() ActionRepository {
	return &actionRepository{}
}

var _ ActionRepository = (*actionRepository)(nil)

func (r *actionRepository) GetByID(ctx context.Context, actionID uuid.UUID) (*models.Action, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, tenant_id, integration_id, name, method, url, description,
		       input_schema, output_schema, source_urls, created_at, updated_at
		FROM engine_actions
		WHERE id = $1`

	var a models.Action
	var description *string
	var inputSchema, outputSchema, sourceURLs []byte

	err := scope.Conn.QueryRow(ctx, query, actionID).Scan(
		&a.ID,
		&a.TenantID,
		&a.IntegrationID,
		&a.Name,
		&a.Method,
		&a.URL,
		&description,
		&inputSchema,
		&outputSchema,
		&sourceURLs,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get action: %w", err)
	}

	if description != nil {
		a.Description = *description
	}
	if len(inputSchema) > 0 {
		a.InputSchema = inputSchema
	}
	if len(outputSchema) > 0 {
		a.OutputSchema = outputSchema
	}
	if err := unmarshalJSONB(sourceURLs, &a.SourceURLs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source_urls: %w", err)
	}

	return &a, nil
}

func (r *actionRepository) ApplyProposedSchemas(ctx context.Context, actionID uuid.UUID, inputSchema, outputSchema json.RawMessage) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE engine_actions
		SET input_schema = COALESCE($2, input_schema),
		    output_schema = COALESCE($3, output_schema),
		    updated_at = $4
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query, actionID,
		nullableJSON(inputSchema), nullableJSON(outputSchema), time.Now())
	if err != nil {
		return fmt.Errorf("failed to apply proposed schemas: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("action not found")
	}

	return nil
}

func (r *actionRepository) RestoreSchemas(ctx context.Context, actionID uuid.UUID, inputSchema, outputSchema json.RawMessage) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE engine_actions
		SET input_schema = $2, output_schema = $3, updated_at = $4
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query, actionID,
		nullableJSON(inputSchema), nullableJSON(outputSchema), time.Now())
	if err != nil {
		return fmt.Errorf("failed to restore schemas: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("action not found")
	}

	return nil
}

func (r *actionRepository) UpdateDescription(ctx context.Context, actionID uuid.UUID, description string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE engine_actions
		SET description = $2, updated_at = $3
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query, actionID, nullableString(description), time.Now())
	if err != nil {
		return fmt.Errorf("failed to update action description: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("action not found")
	}

	return nil
}

package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/skein-ai/skein-engine/pkg/database"
	"github.com/skein-ai/skein-engine/pkg/models"
)

// MaintenanceConfigRepository provides read access to per-integration
// maintenance configuration.
type MaintenanceConfigRepository interface {
	// GetByIntegration returns the integration's maintenance config, falling
	// back to defaults when none is stored.
	GetByIntegration(ctx context.Context, integrationID uuid.UUID) (*models.MaintenanceConfig, error)
}

type maintenanceConfigRepository struct{}

// NewMaintenanceConfigRepository creates a new MaintenanceConfigRepository.
func NewMaintenanceConfigRepository() MaintenanceConfigRepository {
	return &maintenanceConfigRepository{}
}

var _ MaintenanceConfigRepository = (*maintenanceConfigRepository)(nil)

func (r *maintenanceConfigRepository) GetByIntegration(ctx context.Context, integrationID uuid.UUID) (*models.MaintenanceConfig, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT integration_id, enabled, auto_approve_info_level, rescrape_on_breaking
		FROM engine_maintenance_configs
		WHERE integration_id = $1`

	var cfg models.MaintenanceConfig
	err := scope.Conn.QueryRow(ctx, query, integrationID).Scan(
		&cfg.IntegrationID,
		&cfg.Enabled,
		&cfg.AutoApproveInfoLevel,
		&cfg.RescrapeOnBreaking,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.DefaultMaintenanceConfig(integrationID), nil
		}
		return nil, fmt.Errorf("failed to get maintenance config: %w", err)
	}

	return &cfg, nil
}

// MaintenanceTargetRepository enumerates the integrations the periodic
// maintenance job should visit. It queries across tenants on the shared pool,
// outside any tenant scope; the job opens a per-tenant scope before touching
// tenant data.
type MaintenanceTargetRepository interface {
	// ListEnabled returns every integration with maintenance enabled.
	ListEnabled(ctx context.Context) ([]models.MaintenanceTarget, error)
}

type maintenanceTargetRepository struct {
	db *database.DB
}

// NewMaintenanceTargetRepository creates a new MaintenanceTargetRepository.
func NewMaintenanceTargetRepository(db *database.DB) MaintenanceTargetRepository {
	return &maintenanceTargetRepository{db: db}
}

var _ MaintenanceTargetRepository = (*maintenanceTargetRepository)(nil)

func (r *maintenanceTargetRepository) ListEnabled(ctx context.Context) ([]models.MaintenanceTarget, error) {
	query := `
		SELECT tenant_id, integration_id, auto_approve_info_level
		FROM engine_maintenance_configs
		WHERE enabled
		ORDER BY tenant_id, integration_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list maintenance targets: %w", err)
	}
	defer rows.Close()

	var targets []models.MaintenanceTarget
	for rows.Next() {
		var t models.MaintenanceTarget
		if err := rows.Scan(&t.TenantID, &t.IntegrationID, &t.AutoApproveInfoLevel); err != nil {
			return nil, fmt.Errorf("failed to scan maintenance target: %w", err)
		}
		targets = append(targets, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating maintenance targets: %w", err)
	}

	return targets, nil
}

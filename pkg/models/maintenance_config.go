package models

import "github.com/google/uuid"

// MaintenanceConfig is per-integration maintenance policy.
type MaintenanceConfig struct {
	IntegrationID        uuid.UUID `json:"integration_id"`
	Enabled              bool      `json:"enabled"`
	AutoApproveInfoLevel bool      `json:"auto_approve_info_level"`
	RescrapeOnBreaking   bool      `json:"rescrape_on_breaking"`
}

// DefaultMaintenanceConfig is the policy used when an integration has no
// stored config: maintenance on, no auto-approval, no rescrape trigger.
func DefaultMaintenanceConfig(integrationID uuid.UUID) *MaintenanceConfig {
	return &MaintenanceConfig{
		IntegrationID: integrationID,
		Enabled:       true,
	}
}

// MaintenanceTarget is one integration the periodic maintenance job should
// visit, with the tenant it belongs to.
type MaintenanceTarget struct {
	TenantID             uuid.UUID `json:"tenant_id"`
	IntegrationID        uuid.UUID `json:"integration_id"`
	AutoApproveInfoLevel bool      `json:"auto_approve_info_level"`
}

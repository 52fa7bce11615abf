package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skein-ai/skein-engine/pkg/database"
)

// TenantMiddleware is a function that wraps a handler with tenant context.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// NewTenantMiddleware returns middleware that opens a tenant-scoped database
// connection for the tenant named in the {tid} path parameter and closes it
// when the request finishes.
func NewTenantMiddleware(db *database.DB, logger *zap.Logger) TenantMiddleware {
	provider := database.NewTenantScopeProvider(db)

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := uuid.Parse(r.PathValue("tid"))
			if err != nil {
				if err := ErrorResponse(w, http.StatusBadRequest, "invalid_tenant_id", "Invalid tenant ID format"); err != nil {
					logger.Error("Failed to write error response", zap.Error(err))
				}
				return
			}

			tenantCtx, cleanup, err := provider.WithTenantScope(r.Context(), tenantID)
			if err != nil {
				logger.Error("Failed to open tenant scope",
					zap.String("tenant_id", tenantID.String()),
					zap.Error(err))
				if err := ErrorResponse(w, http.StatusServiceUnavailable, "tenant_scope_failed", "Could not open tenant database scope"); err != nil {
					logger.Error("Failed to write error response", zap.Error(err))
				}
				return
			}
			defer cleanup()

			next(w, r.WithContext(tenantCtx))
		}
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skein-ai/skein-engine/pkg/apperrors"
	"github.com/skein-ai/skein-engine/pkg/models"
	"github.com/skein-ai/skein-engine/pkg/repositories"
	"github.com/skein-ai/skein-engine/pkg/services"
)

// ============================================================================
// Service contracts
// ============================================================================

// ProposalService is the slice of the proposal lifecycle the HTTP layer uses.
type ProposalService interface {
	ListProposals(ctx context.Context, tenantID uuid.UUID, filter *repositories.ProposalFilter) ([]*models.MaintenanceProposal, error)
	GetProposal(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error)
	Summary(ctx context.Context, tenantID uuid.UUID) (map[string]int, error)
	CreateProposal(ctx context.Context, actionID uuid.UUID) (*models.MaintenanceProposal, error)
	Approve(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error)
	Reject(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error)
	Revert(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error)
	BatchApprove(ctx context.Context, integrationID uuid.UUID, maxSeverity string) (*services.BatchApproveResult, error)
	ExpireStale(ctx context.Context, tenantID uuid.UUID, integrationID *uuid.UUID) (int, error)
	GenerateForIntegration(ctx context.Context, tenantID, integrationID uuid.UUID) ([]*models.MaintenanceProposal, error)
}

// DecisionService applies reviewer verdicts on description suggestions.
type DecisionService interface {
	ApplyDecisions(ctx context.Context, tenantID, proposalID uuid.UUID, decisions []models.DescriptionDecision) (*models.MaintenanceProposal, error)
}

// ============================================================================
// Request/Response Types
// ============================================================================

// ProposalListResponse for GET /proposals
type ProposalListResponse struct {
	Proposals []*models.MaintenanceProposal `json:"proposals"`
	Total     int                           `json:"total"`
}

// BatchApproveRequest for POST /integrations/{iid}/proposals/batch-approve
type BatchApproveRequest struct {
	MaxSeverity string `json:"max_severity"`
}

// DecisionsRequest for POST /proposals/{prid}/decisions
type DecisionsRequest struct {
	Decisions []models.DescriptionDecision `json:"decisions"`
}

// ExpireResponse for POST /proposals/expire
type ExpireResponse struct {
	Expired int `json:"expired"`
}

// ============================================================================
// Handler
// ============================================================================

// MaintenanceHandler handles maintenance proposal HTTP requests.
type MaintenanceHandler struct {
	proposals ProposalService
	decisions DecisionService
	logger    *zap.Logger
}

// NewMaintenanceHandler creates a new maintenance handler.
func NewMaintenanceHandler(proposals ProposalService, decisions DecisionService, logger *zap.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		proposals: proposals,
		decisions: decisions,
		logger:    logger,
	}
}

// RegisterRoutes registers the maintenance handler's routes on the given mux.
func (h *MaintenanceHandler) RegisterRoutes(mux *http.ServeMux, tenantMiddleware TenantMiddleware) {
	base := "/api/tenants/{tid}"

	mux.HandleFunc("GET "+base+"/proposals", tenantMiddleware(h.List))
	mux.HandleFunc("GET "+base+"/proposals/summary", tenantMiddleware(h.Summary))
	mux.HandleFunc("GET "+base+"/proposals/{prid}", tenantMiddleware(h.Get))
	mux.HandleFunc("POST "+base+"/proposals/{prid}/approve", tenantMiddleware(h.Approve))
	mux.HandleFunc("POST "+base+"/proposals/{prid}/reject", tenantMiddleware(h.Reject))
	mux.HandleFunc("POST "+base+"/proposals/{prid}/revert", tenantMiddleware(h.Revert))
	mux.HandleFunc("POST "+base+"/proposals/{prid}/decisions", tenantMiddleware(h.ApplyDecisions))
	mux.HandleFunc("POST "+base+"/proposals/expire", tenantMiddleware(h.Expire))
	mux.HandleFunc("POST "+base+"/actions/{aid}/proposals", tenantMiddleware(h.Create))
	mux.HandleFunc("POST "+base+"/integrations/{iid}/proposals/generate", tenantMiddleware(h.Generate))
	mux.HandleFunc("POST "+base+"/integrations/{iid}/proposals/batch-approve", tenantMiddleware(h.BatchApprove))
}

// List handles GET /api/tenants/{tid}/proposals
func (h *MaintenanceHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := ParseTenantID(w, r, h.logger)
	if !ok {
		return
	}

	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	proposals, err := h.proposals.ListProposals(r.Context(), tenantID, filter)
	if err != nil {
		h.logger.Error("Failed to list proposals",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
		h.writeError(w, "list_proposals_failed", err)
		return
	}

	response := ProposalListResponse{
		Proposals: proposals,
		Total:     len(proposals),
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Summary handles GET /api/tenants/{tid}/proposals/summary
func (h *MaintenanceHandler) Summary(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := ParseTenantID(w, r, h.logger)
	if !ok {
		return
	}

	counts, err := h.proposals.Summary(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("Failed to summarize proposals",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
		h.writeError(w, "proposal_summary_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: counts}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/tenants/{tid}/proposals/{prid}
func (h *MaintenanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := ParseTenantID(w, r, h.logger)
	if !ok {
		return
	}
	proposalID, ok := ParseProposalID(w, r, h.logger)
	if !ok {
		return
	}

	proposal, err := h.proposals.GetProposal(r.Context(), tenantID, proposalID)
	if err != nil {
		h.writeError(w, "get_proposal_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: proposal}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/tenants/{tid}/actions/{aid}/proposals
func (h *MaintenanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	_, ok := ParseTenantID(w, r, h.logger)
	if !ok {
		return
	}
	actionID, ok := ParseActionID(w, r, h.logger)
	if !ok {
		return
	}

	proposal, err := h.proposals.CreateProposal(r.Context(), actionID)
	if err != nil {
		h.logger.Error("Failed to create proposal",
			zap.String("action_id", actionID.String()),
			zap.Error(err))
		h.writeError(w, "create_proposal_failed", err)
		return
	}

	if proposal == nil {
		// Open drift exists but nothing was inferable.
		if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "No schema changes could be inferred"}); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: proposal}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Approve handles POST /api/tenants/{tid}/proposals/{prid}/approve
func (h *MaintenanceHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve_proposal_failed", h.proposals.Approve)
}

// Reject handles POST /api/tenants/{tid}/proposals/{prid}/reject
func (h *MaintenanceHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reject_proposal_failed", h.proposals.Reject)
}

// Revert handles POST /api/tenants/{tid}/proposals/{prid}/revert
func (h *MaintenanceHandler) Revert(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "revert_proposal_failed", h.proposals.Revert)
}

// transition runs one status-changing proposal operation and writes the result.
func (h *MaintenanceHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	errorCode string,
	op func(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error),
) {
	tenantID, ok := ParseTenantID(w, r, h.logger)
	if !ok {
		return
	}
	proposalID, ok := ParseProposalID(w, r, h.logger)
	if !ok {
		return
	}

	proposal, err := op(r.Context(), tenantID, proposalID)
	if err != nil {
		h.logger.Error("Proposal transition failed",
			zap.String("proposal_id", proposalID.String()),
			zap.Error(err))
		h.writeError(w, errorCode, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: proposal}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ApplyDecisions handles POST /api/tenants/{tid}/proposals/{prid}/decisions
func (h *MaintenanceHandler) ApplyDecisions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := ParseTenantID(w, r, h.logger)
	if !ok {
		return
	}
	proposalID, ok := ParseProposalID(w, r, h.logger)
	if !ok {
		return
	}

	var req DecisionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	proposal, err := h.decisions.ApplyDecisions(r.Context(), tenantID, proposalID, req.Decisions)
	if err != nil {
		h.logger.Error("Failed to apply description decisions",
			zap.String("proposal_id", proposalID.String()),
			zap.Error(err))
		h.writeError(w, "apply_decisions_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: proposal}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Expire handles POST /api/tenants/{tid}/proposals/expire
// Accepts an optional integration_id query parameter to narrow the sweep.
func (h *MaintenanceHandler) Expire(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := ParseTenantID(w, r, h.logger)
	if !ok {
		return
	}

	var integrationID *uuid.UUID
	if raw := r.URL.Query().Get("integration_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_integration_id", "Invalid integration ID format"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		integrationID = &id
	}

	expired, err := h.proposals.ExpireStale(r.Context(), tenantID, integrationID)
	if err != nil {
		h.logger.Error("Expiration sweep failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
		h.writeError(w, "expire_proposals_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: ExpireResponse{Expired: expired}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Generate handles POST /api/tenants/{tid}/integrations/{iid}/proposals/generate
func (h *MaintenanceHandler) Generate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := ParseTenantID(w, r, h.logger)
	if !ok {
		return
	}
	integrationID, ok := ParseIntegrationID(w, r, h.logger)
	if !ok {
		return
	}

	created, err := h.proposals.GenerateForIntegration(r.Context(), tenantID, integrationID)
	if err != nil {
		h.logger.Error("Generation pass failed",
			zap.String("integration_id", integrationID.String()),
			zap.Error(err))
		h.writeError(w, "generate_proposals_failed", err)
		return
	}

	response := ProposalListResponse{
		Proposals: created,
		Total:     len(created),
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// BatchApprove handles POST /api/tenants/{tid}/integrations/{iid}/proposals/batch-approve
func (h *MaintenanceHandler) BatchApprove(w http.ResponseWriter, r *http.Request) {
	_, ok := ParseTenantID(w, r, h.logger)
	if !ok {
		return
	}
	integrationID, ok := ParseIntegrationID(w, r, h.logger)
	if !ok {
		return
	}

	var req BatchApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if models.SeverityRank(req.MaxSeverity) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_severity", "max_severity must be info, warning, or breaking"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.proposals.BatchApprove(r.Context(), integrationID, req.MaxSeverity)
	if err != nil {
		h.logger.Error("Batch approval failed",
			zap.String("integration_id", integrationID.String()),
			zap.Error(err))
		h.writeError(w, "batch_approve_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// parseFilter builds a ProposalFilter from list query parameters.
func (h *MaintenanceHandler) parseFilter(w http.ResponseWriter, r *http.Request) (*repositories.ProposalFilter, bool) {
	query := r.URL.Query()
	filter := &repositories.ProposalFilter{
		Status:   query.Get("status"),
		Severity: query.Get("severity"),
	}

	if raw := query.Get("action_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_action_id", "Invalid action ID format"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return nil, false
		}
		filter.ActionID = &id
	}
	if raw := query.Get("integration_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_integration_id", "Invalid integration ID format"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return nil, false
		}
		filter.IntegrationID = &id
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "Invalid limit"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return nil, false
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_offset", "Invalid offset"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return nil, false
		}
		filter.Offset = offset
	}

	return filter, true
}

// writeError maps service errors onto HTTP responses.
func (h *MaintenanceHandler) writeError(w http.ResponseWriter, fallbackCode string, err error) {
	var transitionErr *apperrors.InvalidTransitionError

	var statusCode int
	errorCode := fallbackCode
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		statusCode = http.StatusNotFound
		errorCode = "not_found"
	case errors.Is(err, apperrors.ErrConflict):
		statusCode = http.StatusConflict
		errorCode = "conflict"
	case errors.As(err, &transitionErr):
		statusCode = http.StatusConflict
		errorCode = "invalid_transition"
	case errors.Is(err, apperrors.ErrInvalidInput):
		statusCode = http.StatusBadRequest
		errorCode = "invalid_input"
	default:
		statusCode = http.StatusInternalServerError
	}

	if err := ErrorResponse(w, statusCode, errorCode, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

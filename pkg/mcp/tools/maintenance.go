package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/skein-ai/skein-engine/pkg/models"
	"github.com/skein-ai/skein-engine/pkg/repositories"
	"github.com/skein-ai/skein-engine/pkg/services"
)

// ProposalService is the slice of the proposal lifecycle exposed over MCP.
type ProposalService interface {
	ListProposals(ctx context.Context, tenantID uuid.UUID, filter *repositories.ProposalFilter) ([]*models.MaintenanceProposal, error)
	GetProposal(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error)
	Summary(ctx context.Context, tenantID uuid.UUID) (map[string]int, error)
	Approve(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error)
	Reject(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error)
	Revert(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error)
}

// DecisionService applies reviewer verdicts on description suggestions.
type DecisionService interface {
	ApplyDecisions(ctx context.Context, tenantID, proposalID uuid.UUID, decisions []models.DescriptionDecision) (*models.MaintenanceProposal, error)
}

// MaintenanceToolDeps contains dependencies for maintenance tools.
type MaintenanceToolDeps struct {
	Scopes    services.TenantScopeOpener
	Proposals ProposalService
	Decisions DecisionService
	Logger    *zap.Logger
}

// RegisterMaintenanceTools registers proposal-review MCP tools.
func RegisterMaintenanceTools(s *server.MCPServer, deps *MaintenanceToolDeps) {
	registerListProposalsTool(s, deps)
	registerGetProposalTool(s, deps)
	registerProposalSummaryTool(s, deps)
	registerTransitionTool(s, deps, "approve_proposal",
		"Approve a pending maintenance proposal. Applies the proposed schemas to the action, "+
			"resolves the drift reports it addresses, and starts description suggestion generation.",
		deps.proposalsApprove)
	registerTransitionTool(s, deps, "reject_proposal",
		"Reject a pending maintenance proposal. The schemas stay unchanged and the drift reports stay open.",
		deps.proposalsReject)
	registerTransitionTool(s, deps, "revert_proposal",
		"Revert an approved maintenance proposal. Restores the schema snapshots taken at proposal "+
			"creation and reopens the drift reports it had resolved.",
		deps.proposalsRevert)
	registerApplyDecisionsTool(s, deps)
}

func (d *MaintenanceToolDeps) proposalsApprove(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error) {
	return d.Proposals.Approve(ctx, tenantID, proposalID)
}

func (d *MaintenanceToolDeps) proposalsReject(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error) {
	return d.Proposals.Reject(ctx, tenantID, proposalID)
}

func (d *MaintenanceToolDeps) proposalsRevert(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error) {
	return d.Proposals.Revert(ctx, tenantID, proposalID)
}

// openTenantScope parses the tenant_id argument and opens a tenant-scoped
// context for the call.
func openTenantScope(ctx context.Context, deps *MaintenanceToolDeps, req mcp.CallToolRequest) (uuid.UUID, context.Context, func(), error) {
	raw, err := req.RequireString("tenant_id")
	if err != nil {
		return uuid.Nil, nil, nil, err
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, nil, nil, fmt.Errorf("invalid tenant ID: %w", err)
	}

	tenantCtx, cleanup, err := deps.Scopes.WithTenantScope(ctx, tenantID)
	if err != nil {
		return uuid.Nil, nil, nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	return tenantID, tenantCtx, cleanup, nil
}

// parseProposalID parses the proposal_id argument.
func parseProposalID(req mcp.CallToolRequest) (uuid.UUID, error) {
	raw, err := req.RequireString("proposal_id")
	if err != nil {
		return uuid.Nil, err
	}
	proposalID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid proposal ID: %w", err)
	}
	return proposalID, nil
}

func marshalToolResult(v any) (*mcp.CallToolResult, error) {
	jsonResult, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonResult)), nil
}

// registerListProposalsTool adds the list_proposals tool for reviewing the
// maintenance queue.
func registerListProposalsTool(s *server.MCPServer, deps *MaintenanceToolDeps) {
	tool := mcp.NewTool(
		"list_proposals",
		mcp.WithDescription(
			"List maintenance proposals for a tenant. "+
				"Each proposal bundles inferred schema fixes for one action's API drift. "+
				"Filter by status (pending, approved, rejected, expired, reverted) to focus the review queue.",
		),
		mcp.WithString(
			"tenant_id",
			mcp.Required(),
			mcp.Description("Tenant to list proposals for"),
		),
		mcp.WithString(
			"status",
			mcp.Description("Optional status filter"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantID, tenantCtx, cleanup, err := openTenantScope(ctx, deps, req)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		filter := &repositories.ProposalFilter{
			Status: req.GetString("status", ""),
		}

		proposals, err := deps.Proposals.ListProposals(tenantCtx, tenantID, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to list proposals: %w", err)
		}

		result := struct {
			Proposals []listProposalResponse `json:"proposals"`
			Count     int                    `json:"count"`
		}{
			Proposals: make([]listProposalResponse, 0, len(proposals)),
			Count:     len(proposals),
		}
		for _, proposal := range proposals {
			result.Proposals = append(result.Proposals, toListProposalResponse(proposal))
		}

		return marshalToolResult(result)
	})
}

// registerGetProposalTool adds the get_proposal tool for inspecting one
// proposal in full, including schemas and description suggestions.
func registerGetProposalTool(s *server.MCPServer, deps *MaintenanceToolDeps) {
	tool := mcp.NewTool(
		"get_proposal",
		mcp.WithDescription(
			"Get one maintenance proposal in full: the change list, reasoning, affected tools, "+
				"current and proposed schemas, and any description suggestions. "+
				"Use list_proposals first to find proposal IDs.",
		),
		mcp.WithString(
			"tenant_id",
			mcp.Required(),
			mcp.Description("Tenant the proposal belongs to"),
		),
		mcp.WithString(
			"proposal_id",
			mcp.Required(),
			mcp.Description("Proposal to fetch"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantID, tenantCtx, cleanup, err := openTenantScope(ctx, deps, req)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		proposalID, err := parseProposalID(req)
		if err != nil {
			return nil, err
		}

		proposal, err := deps.Proposals.GetProposal(tenantCtx, tenantID, proposalID)
		if err != nil {
			return nil, fmt.Errorf("failed to get proposal: %w", err)
		}

		return marshalToolResult(proposal)
	})
}

// registerProposalSummaryTool adds the proposal_summary tool with per-status
// counts.
func registerProposalSummaryTool(s *server.MCPServer, deps *MaintenanceToolDeps) {
	tool := mcp.NewTool(
		"proposal_summary",
		mcp.WithDescription("Count a tenant's maintenance proposals grouped by status."),
		mcp.WithString(
			"tenant_id",
			mcp.Required(),
			mcp.Description("Tenant to summarize"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantID, tenantCtx, cleanup, err := openTenantScope(ctx, deps, req)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		counts, err := deps.Proposals.Summary(tenantCtx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to summarize proposals: %w", err)
		}

		return marshalToolResult(counts)
	})
}

// registerTransitionTool adds one status-changing proposal tool.
func registerTransitionTool(
	s *server.MCPServer,
	deps *MaintenanceToolDeps,
	name, description string,
	op func(ctx context.Context, tenantID, proposalID uuid.UUID) (*models.MaintenanceProposal, error),
) {
	tool := mcp.NewTool(
		name,
		mcp.WithDescription(description),
		mcp.WithString(
			"tenant_id",
			mcp.Required(),
			mcp.Description("Tenant the proposal belongs to"),
		),
		mcp.WithString(
			"proposal_id",
			mcp.Required(),
			mcp.Description("Proposal to transition"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantID, tenantCtx, cleanup, err := openTenantScope(ctx, deps, req)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		proposalID, err := parseProposalID(req)
		if err != nil {
			return nil, err
		}

		proposal, err := op(tenantCtx, tenantID, proposalID)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", name, err)
		}

		return marshalToolResult(proposal)
	})
}

// registerApplyDecisionsTool adds the apply_description_decisions tool.
// Decisions arrive as a JSON array argument so one call can settle several
// suggestions.
func registerApplyDecisionsTool(s *server.MCPServer, deps *MaintenanceToolDeps) {
	tool := mcp.NewTool(
		"apply_description_decisions",
		mcp.WithDescription(
			"Record accept/skip verdicts for an approved proposal's description suggestions. "+
				"Pass decisions as a JSON array, e.g. "+
				`[{"tool_id":"<uuid>","accept":true}]. `+
				"Accepted suggestions update the tool's description; skipped ones are recorded and left unapplied.",
		),
		mcp.WithString(
			"tenant_id",
			mcp.Required(),
			mcp.Description("Tenant the proposal belongs to"),
		),
		mcp.WithString(
			"proposal_id",
			mcp.Required(),
			mcp.Description("Approved proposal whose suggestions are being decided"),
		),
		mcp.WithString(
			"decisions",
			mcp.Required(),
			mcp.Description("JSON array of {tool_id, accept} decisions"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tenantID, tenantCtx, cleanup, err := openTenantScope(ctx, deps, req)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		proposalID, err := parseProposalID(req)
		if err != nil {
			return nil, err
		}

		raw, err := req.RequireString("decisions")
		if err != nil {
			return nil, err
		}
		var decisions []models.DescriptionDecision
		if err := json.Unmarshal([]byte(raw), &decisions); err != nil {
			return nil, fmt.Errorf("decisions must be a JSON array of {tool_id, accept}: %w", err)
		}

		proposal, err := deps.Decisions.ApplyDecisions(tenantCtx, tenantID, proposalID, decisions)
		if err != nil {
			return nil, fmt.Errorf("failed to apply decisions: %w", err)
		}

		return marshalToolResult(proposal)
	})
}

// listProposalResponse is the lightweight response format for list_proposals.
// Schema documents are omitted; get_proposal returns the full record.
type listProposalResponse struct {
	ID            uuid.UUID `json:"id"`
	ActionID      uuid.UUID `json:"action_id"`
	IntegrationID uuid.UUID `json:"integration_id"`
	Status        string    `json:"status"`
	Severity      string    `json:"severity"`
	Reasoning     string    `json:"reasoning"`
	ChangeCount   int       `json:"change_count"`
}

// toListProposalResponse converts a model to list_proposals response format.
func toListProposalResponse(proposal *models.MaintenanceProposal) listProposalResponse {
	return listProposalResponse{
		ID:            proposal.ID,
		ActionID:      proposal.ActionID,
		IntegrationID: proposal.IntegrationID,
		Status:        proposal.Status,
		Severity:      proposal.Severity,
		Reasoning:     proposal.Reasoning,
		ChangeCount:   len(proposal.Changes),
	}
}

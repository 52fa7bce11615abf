package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skein-ai/skein-engine/pkg/apperrors"
	"github.com/skein-ai/skein-engine/pkg/models"
	"github.com/skein-ai/skein-engine/pkg/repositories"
)

// DescriptionCascadeDeps holds the dependencies for DescriptionCascade.
type DescriptionCascadeDeps struct {
	Proposals      repositories.MaintenanceProposalRepository
	Actions        repositories.ActionRepository
	CompositeTools repositories.CompositeToolRepository
	AgenticTools   repositories.AgenticToolRepository
	Generator      ToolDescriptionGenerator
	Logger         *zap.Logger
}

// DescriptionCascade propagates an approved schema change into suggested
// description updates for every affected tool, and applies reviewer
// decisions on those suggestions.
type DescriptionCascade struct {
	proposals      repositories.MaintenanceProposalRepository
	actions        repositories.ActionRepository
	compositeTools repositories.CompositeToolRepository
	agenticTools   repositories.AgenticToolRepository
	generator      ToolDescriptionGenerator
	logger         *zap.Logger
}

// NewDescriptionCascade creates a new DescriptionCascade.
func NewDescriptionCascade(deps DescriptionCascadeDeps) *DescriptionCascade {
	return &DescriptionCascade{
		proposals:      deps.Proposals,
		actions:        deps.Actions,
		compositeTools: deps.CompositeTools,
		agenticTools:   deps.AgenticTools,
		generator:      deps.Generator,
		logger:         deps.Logger,
	}
}

// GenerateAndStore computes description suggestions for an approved proposal
// and persists the list onto it. Each generation pass is fault-isolated: a
// failure in one pass is logged and the others still run. An empty result
// stores nothing, which reviewers see as "no suggestions available".
func (c *DescriptionCascade) GenerateAndStore(ctx context.Context, proposal *models.MaintenanceProposal) error {
	suggestions := c.generateSuggestions(ctx, proposal)
	if len(suggestions) == 0 {
		return nil
	}

	if err := c.proposals.SetDescriptionSuggestions(ctx, proposal.ID, suggestions); err != nil {
		return fmt.Errorf("failed to store description suggestions: %w", err)
	}
	proposal.DescriptionSuggestions = suggestions
	return nil
}

func (c *DescriptionCascade) generateSuggestions(ctx context.Context, proposal *models.MaintenanceProposal) []models.DescriptionSuggestion {
	var suggestions []models.DescriptionSuggestion

	regenerated, actionPassOK := c.actionPass(ctx, proposal, &suggestions)
	c.compositePass(ctx, proposal, &suggestions)
	if actionPassOK {
		c.agenticPass(ctx, proposal, regenerated, &suggestions)
	} else {
		c.logger.Warn("skipping agentic description pass, action regeneration failed",
			zap.String("proposal_id", proposal.ID.String()))
	}

	return suggestions
}

// actionPass regenerates the action's own description under its new schema.
// The generator persists what it computes, so the original text is written
// back immediately afterwards; the net effect is read-only.
func (c *DescriptionCascade) actionPass(ctx context.Context, proposal *models.MaintenanceProposal, suggestions *[]models.DescriptionSuggestion) (string, bool) {
	action, err := c.actions.GetByID(ctx, proposal.ActionID)
	if err != nil || action == nil {
		c.logger.Warn("action description pass failed to load action",
			zap.String("action_id", proposal.ActionID.String()),
			zap.Error(err))
		return "", false
	}

	original := action.Description
	regenerated, err := c.generator.GenerateActionDescription(ctx, action)
	if err != nil {
		c.logger.Warn("action description regeneration failed",
			zap.String("action_id", action.ID.String()),
			zap.Error(err))
		return "", false
	}

	if err := c.actions.UpdateDescription(ctx, action.ID, original); err != nil {
		c.logger.Error("failed to restore action description after regeneration",
			zap.String("action_id", action.ID.String()),
			zap.Error(err))
	}

	if regenerated != original {
		*suggestions = append(*suggestions, models.DescriptionSuggestion{
			ToolType:             models.ToolTypeAction,
			ToolID:               action.ID,
			ToolName:             action.Name,
			CurrentDescription:   original,
			SuggestedDescription: regenerated,
			Status:               models.SuggestionStatusPending,
		})
	}

	return regenerated, true
}

// compositePass regenerates descriptions for every affected composite tool,
// suggesting only where the text actually differs.
func (c *DescriptionCascade) compositePass(ctx context.Context, proposal *models.MaintenanceProposal, suggestions *[]models.DescriptionSuggestion) {
	for _, affected := range proposal.AffectedTools {
		if affected.ToolType != models.ToolTypeComposite {
			continue
		}

		tool, err := c.compositeTools.GetByID(ctx, affected.ToolID)
		if err != nil || tool == nil {
			c.logger.Warn("composite description pass failed to load tool",
				zap.String("tool_id", affected.ToolID.String()),
				zap.Error(err))
			continue
		}

		operations, err := c.compositeTools.ListOperations(ctx, tool.ID)
		if err != nil {
			c.logger.Warn("composite description pass failed to load operations",
				zap.String("tool_id", tool.ID.String()),
				zap.Error(err))
			continue
		}

		regenerated, err := c.generator.GenerateCompositeDescription(ctx, tool, operations)
		if err != nil {
			c.logger.Warn("composite description regeneration failed",
				zap.String("tool_id", tool.ID.String()),
				zap.Error(err))
			continue
		}

		if regenerated != tool.Description {
			*suggestions = append(*suggestions, models.DescriptionSuggestion{
				ToolType:             models.ToolTypeComposite,
				ToolID:               tool.ID,
				ToolName:             tool.Name,
				CurrentDescription:   tool.Description,
				SuggestedDescription: regenerated,
				Status:               models.SuggestionStatusPending,
			})
		}
	}
}

// agenticPass suggests replacing the action's embedded description inside
// autonomous-agent allocations. Parameter-interpreter tools hold only an
// action reference, no description text, and are skipped.
func (c *DescriptionCascade) agenticPass(ctx context.Context, proposal *models.MaintenanceProposal, regenerated string, suggestions *[]models.DescriptionSuggestion) {
	actionID := proposal.ActionID.String()

	for _, affected := range proposal.AffectedTools {
		if affected.ToolType != models.ToolTypeAgentic {
			continue
		}

		tool, err := c.agenticTools.GetByID(ctx, affected.ToolID)
		if err != nil || tool == nil {
			c.logger.Warn("agentic description pass failed to load tool",
				zap.String("tool_id", affected.ToolID.String()),
				zap.Error(err))
			continue
		}

		alloc, err := tool.ParseAllocation()
		if err != nil {
			c.logger.Warn("agentic description pass failed to parse allocation",
				zap.String("tool_id", tool.ID.String()),
				zap.Error(err))
			continue
		}
		if alloc.Mode != models.AllocationModeAutonomousAgent {
			continue
		}

		for _, entry := range alloc.AutonomousAgent.AvailableTools {
			if entry.ActionID != actionID || entry.Description == regenerated {
				continue
			}
			*suggestions = append(*suggestions, models.DescriptionSuggestion{
				ToolType:             models.ToolTypeAgentic,
				ToolID:               tool.ID,
				ToolName:             tool.Name,
				CurrentDescription:   entry.Description,
				SuggestedDescription: regenerated,
				Status:               models.SuggestionStatusPending,
			})
			break
		}
	}
}

// ApplyDecisions records reviewer accept/skip verdicts for a proposal's
// suggestions and applies accepted ones to the underlying tool records. A
// per-item apply failure leaves that suggestion pending and does not affect
// sibling decisions; the full updated list is persisted in one write.
func (c *DescriptionCascade) ApplyDecisions(ctx context.Context, tenantID, proposalID uuid.UUID, decisions []models.DescriptionDecision) (*models.MaintenanceProposal, error) {
	proposal, err := c.proposals.GetByID(ctx, tenantID, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, fmt.Errorf("proposal %s: %w", proposalID, apperrors.ErrNotFound)
	}
	if proposal.Status != models.ProposalStatusApproved {
		return nil, &apperrors.InvalidTransitionError{
			Current:   proposal.Status,
			Requested: "description decision",
		}
	}

	for _, decision := range decisions {
		idx := -1
		for i := range proposal.DescriptionSuggestions {
			if proposal.DescriptionSuggestions[i].ToolID == decision.ToolID &&
				proposal.DescriptionSuggestions[i].Status == models.SuggestionStatusPending {
				idx = i
				break
			}
		}
		if idx < 0 {
			// Decisions for unknown or already-decided tools are no-ops.
			continue
		}

		suggestion := &proposal.DescriptionSuggestions[idx]
		if !decision.Accept {
			suggestion.Status = models.SuggestionStatusSkipped
			continue
		}

		if err := c.applySuggestion(ctx, suggestion); err != nil {
			c.logger.Warn("failed to apply description suggestion",
				zap.String("proposal_id", proposalID.String()),
				zap.String("tool_id", suggestion.ToolID.String()),
				zap.String("tool_type", suggestion.ToolType),
				zap.Error(err))
			continue
		}
		suggestion.Status = models.SuggestionStatusAccepted
	}

	if err := c.proposals.SetDescriptionSuggestions(ctx, proposalID, proposal.DescriptionSuggestions); err != nil {
		return nil, fmt.Errorf("failed to persist suggestion decisions: %w", err)
	}

	return proposal, nil
}

func (c *DescriptionCascade) applySuggestion(ctx context.Context, suggestion *models.DescriptionSuggestion) error {
	switch suggestion.ToolType {
	case models.ToolTypeAction:
		return c.actions.UpdateDescription(ctx, suggestion.ToolID, suggestion.SuggestedDescription)

	case models.ToolTypeComposite:
		return c.compositeTools.UpdateDescription(ctx, suggestion.ToolID, suggestion.SuggestedDescription)

	case models.ToolTypeAgentic:
		return c.applyAgenticSuggestion(ctx, suggestion)

	default:
		return fmt.Errorf("unknown tool type %q", suggestion.ToolType)
	}
}

// applyAgenticSuggestion locates the allocation entry whose current text
// matches the suggestion's recorded "before" text and replaces it. Content
// match, not index match: the available-tool list is an unordered JSON array
// that may have been reordered since the suggestion was generated.
func (c *DescriptionCascade) applyAgenticSuggestion(ctx context.Context, suggestion *models.DescriptionSuggestion) error {
	tool, err := c.agenticTools.GetByID(ctx, suggestion.ToolID)
	if err != nil {
		return err
	}
	if tool == nil {
		return fmt.Errorf("agentic tool %s no longer exists", suggestion.ToolID)
	}

	alloc, err := tool.ParseAllocation()
	if err != nil {
		return err
	}
	if alloc.Mode != models.AllocationModeAutonomousAgent {
		return fmt.Errorf("agentic tool %s is not in autonomous agent mode", suggestion.ToolID)
	}

	matched := false
	for i := range alloc.AutonomousAgent.AvailableTools {
		if alloc.AutonomousAgent.AvailableTools[i].Description == suggestion.CurrentDescription {
			alloc.AutonomousAgent.AvailableTools[i].Description = suggestion.SuggestedDescription
			matched = true
			break
		}
	}
	if !matched {
		return fmt.Errorf("no allocation entry matches the recorded description")
	}

	encoded, err := json.Marshal(alloc)
	if err != nil {
		return fmt.Errorf("failed to encode allocation: %w", err)
	}

	return c.agenticTools.UpdateAllocation(ctx, tool.ID, encoded)
}

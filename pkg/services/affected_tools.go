package services

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/skein-ai/skein-engine/pkg/models"
	"github.com/skein-ai/skein-engine/pkg/repositories"
)

// AffectedToolResolverDeps holds the dependencies for AffectedToolResolver.
type AffectedToolResolverDeps struct {
	CompositeTools repositories.CompositeToolRepository
	AgenticTools   repositories.AgenticToolRepository
	Logger         *zap.Logger
}

// AffectedToolResolver finds every tool that references an action: the
// action itself, composite tools through their operation lists, and agentic
// tools through their allocation documents.
type AffectedToolResolver struct {
	compositeTools repositories.CompositeToolRepository
	agenticTools   repositories.AgenticToolRepository
	logger         *zap.Logger
}

// NewAffectedToolResolver creates a new AffectedToolResolver.
func NewAffectedToolResolver(deps AffectedToolResolverDeps) *AffectedToolResolver {
	return &AffectedToolResolver{
		compositeTools: deps.CompositeTools,
		agenticTools:   deps.AgenticTools,
		logger:         deps.Logger,
	}
}

// FindAffectedTools returns the advisory snapshot of tools depending on the
// action. Agentic matching is a recursive string search over the allocation
// document, so an incidental string equal to the action id also matches.
// Acceptable: the result only feeds the proposal's informational snapshot
// and the description cascade's candidate set.
func (r *AffectedToolResolver) FindAffectedTools(ctx context.Context, action *models.Action) ([]models.AffectedTool, error) {
	tools := []models.AffectedTool{{
		ToolType: models.ToolTypeAction,
		ToolID:   action.ID,
		ToolName: action.Name,
	}}

	composites, err := r.compositeTools.ListByActionID(ctx, action.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list composite tools for action: %w", err)
	}
	for _, composite := range composites {
		tools = append(tools, models.AffectedTool{
			ToolType: models.ToolTypeComposite,
			ToolID:   composite.ID,
			ToolName: composite.Name,
		})
	}

	agentics, err := r.agenticTools.ListByIntegration(ctx, action.IntegrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agentic tools for integration: %w", err)
	}
	actionID := action.ID.String()
	for _, agentic := range agentics {
		var doc any
		if err := json.Unmarshal(agentic.Allocation, &doc); err != nil {
			r.logger.Warn("skipping agentic tool with unreadable allocation",
				zap.String("tool_id", agentic.ID.String()),
				zap.Error(err))
			continue
		}
		if containsString(doc, actionID) {
			tools = append(tools, models.AffectedTool{
				ToolType: models.ToolTypeAgentic,
				ToolID:   agentic.ID,
				ToolName: agentic.Name,
			})
		}
	}

	return tools, nil
}

// containsString walks a decoded JSON document looking for a string value
// equal to target.
func containsString(doc any, target string) bool {
	switch v := doc.(type) {
	case string:
		return v == target
	case map[string]any:
		for _, value := range v {
			if containsString(value, target) {
				return true
			}
		}
	case []any:
		for _, value := range v {
			if containsString(value, target) {
				return true
			}
		}
	}
	return false
}

package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/skein-ai/skein-engine/pkg/models"
	"github.com/skein-ai/skein-engine/pkg/repositories"
)

// ToolDescriptionGenerator is the description-generation contract shared with
// the tool-creation pipeline. GenerateActionDescription persists the freshly
// computed description before returning it; a caller that needs a read-only
// answer must write the previous text back itself.
type ToolDescriptionGenerator interface {
	GenerateActionDescription(ctx context.Context, action *models.Action) (string, error)
	GenerateCompositeDescription(ctx context.Context, tool *models.CompositeTool, operations []*models.CompositeOperation) (string, error)
}

// SchemaDescriptionGenerator derives tool-facing descriptions from schema
// structure. Deterministic: the same action and schemas always produce the
// same text.
type SchemaDescriptionGenerator struct {
	actions repositories.ActionRepository
}

// NewSchemaDescriptionGenerator creates a SchemaDescriptionGenerator.
func NewSchemaDescriptionGenerator(actions repositories.ActionRepository) *SchemaDescriptionGenerator {
	return &SchemaDescriptionGenerator{actions: actions}
}

var _ ToolDescriptionGenerator = (*SchemaDescriptionGenerator)(nil)

// GenerateActionDescription computes the action's description from its
// current schemas and persists it.
func (g *SchemaDescriptionGenerator) GenerateActionDescription(ctx context.Context, action *models.Action) (string, error) {
	input, err := models.ParseSchema(action.InputSchema)
	if err != nil {
		return "", fmt.Errorf("failed to parse input schema: %w", err)
	}
	output, err := models.ParseSchema(action.OutputSchema)
	if err != nil {
		return "", fmt.Errorf("failed to parse output schema: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Calls %s %s.", strings.ToUpper(action.Method), action.URL)

	required, optional := partitionFields(input)
	if len(required) > 0 {
		fmt.Fprintf(&sb, " Requires %s.", strings.Join(required, ", "))
	}
	if len(optional) > 0 {
		fmt.Fprintf(&sb, " Accepts optional %s: %s.",
			inflection.Plural("parameter"), strings.Join(optional, ", "))
	}

	outputs := fieldNames(output)
	if len(outputs) > 0 {
		fmt.Fprintf(&sb, " Returns %s.", strings.Join(outputs, ", "))
	}

	description := sb.String()
	if err := g.actions.UpdateDescription(ctx, action.ID, description); err != nil {
		return "", fmt.Errorf("failed to persist action description: %w", err)
	}

	return description, nil
}

// GenerateCompositeDescription computes a composite tool's description from
// its operations, routing mode, and unified input schema. Pure: nothing is
// persisted.
func (g *SchemaDescriptionGenerator) GenerateCompositeDescription(ctx context.Context, tool *models.CompositeTool, operations []*models.CompositeOperation) (string, error) {
	unified, err := models.ParseSchema(tool.UnifiedInputSchema)
	if err != nil {
		return "", fmt.Errorf("failed to parse unified input schema: %w", err)
	}

	names := make([]string, 0, len(operations))
	for _, op := range operations {
		names = append(names, op.Name)
	}

	var sb strings.Builder
	switch tool.RoutingMode {
	case models.RoutingModeConditional:
		fmt.Fprintf(&sb, "Routes each call to one of %d %s: %s.",
			len(names), pluralize("operation", len(names)), strings.Join(names, ", "))
	default:
		fmt.Fprintf(&sb, "Runs %d %s in sequence: %s.",
			len(names), pluralize("operation", len(names)), strings.Join(names, ", "))
	}

	required, optional := partitionFields(unified)
	if len(required) > 0 {
		fmt.Fprintf(&sb, " Requires %s.", strings.Join(required, ", "))
	}
	if len(optional) > 0 {
		fmt.Fprintf(&sb, " Accepts optional %s: %s.",
			inflection.Plural("parameter"), strings.Join(optional, ", "))
	}

	return sb.String(), nil
}

// partitionFields splits a schema's top-level properties into required and
// optional name lists, both sorted.
func partitionFields(schema *models.SchemaNode) (required, optional []string) {
	requiredSet := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		requiredSet[name] = true
	}

	for name := range schema.Properties {
		if requiredSet[name] {
			required = append(required, name)
		} else {
			optional = append(optional, name)
		}
	}
	sort.Strings(required)
	sort.Strings(optional)
	return required, optional
}

// fieldNames returns a schema's sorted top-level property names.
func fieldNames(schema *models.SchemaNode) []string {
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

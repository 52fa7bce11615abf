package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"

	"github.com/skein-ai/skein-engine/pkg/models"
)

// SchemaInferenceResult is the output of one inference run for one action.
// Each proposed schema is nil unless at least one edit landed on that
// direction.
type SchemaInferenceResult struct {
	ProposedInputSchema  json.RawMessage
	ProposedOutputSchema json.RawMessage
	Changes              []models.ProposalChange
	Reasoning            string
}

// InferSchemaUpdates turns an action's open drift reports and their matching
// validation failures into proposed schema documents plus a structured change
// list. It is pure: no I/O, no mutation of its inputs, safe to re-run.
//
// Only failures whose (issueCode, fieldPath) fingerprint matches an open
// drift report are considered, so stale statistics for already-resolved
// drift never produce edits.
func InferSchemaUpdates(
	actionID uuid.UUID,
	reports []*models.DriftReport,
	failures []*models.ValidationFailure,
	currentInputSchema json.RawMessage,
	currentOutputSchema json.RawMessage,
) (*SchemaInferenceResult, error) {
	openReports := make(map[string]*models.DriftReport)
	for _, report := range reports {
		if report.ActionID == actionID && report.IsOpen() {
			openReports[report.Fingerprint()] = report
		}
	}

	var inputFailures, outputFailures []*models.ValidationFailure
	for _, failure := range failures {
		if failure.ActionID != actionID {
			continue
		}
		if _, ok := openReports[failure.Fingerprint()]; !ok {
			continue
		}
		switch failure.Direction {
		case models.DirectionInput:
			inputFailures = append(inputFailures, failure)
		case models.DirectionOutput:
			outputFailures = append(outputFailures, failure)
		}
	}

	result := &SchemaInferenceResult{}

	inputSchema, inputChanges, err := applyDirection(models.DirectionInput, currentInputSchema, inputFailures, openReports)
	if err != nil {
		return nil, err
	}
	outputSchema, outputChanges, err := applyDirection(models.DirectionOutput, currentOutputSchema, outputFailures, openReports)
	if err != nil {
		return nil, err
	}

	result.ProposedInputSchema = inputSchema
	result.ProposedOutputSchema = outputSchema
	result.Changes = append(result.Changes, inputChanges...)
	result.Changes = append(result.Changes, outputChanges...)
	result.Reasoning = buildReasoning(len(openReports), inputChanges, outputChanges)

	return result, nil
}

// applyDirection clones the current schema for one direction and applies one
// edit per failure. The proposed schema is discarded when no edit applied,
// which happens when every failure carried an issue code the engine does not
// handle for that direction.
func applyDirection(
	direction string,
	currentSchema json.RawMessage,
	failures []*models.ValidationFailure,
	openReports map[string]*models.DriftReport,
) (json.RawMessage, []models.ProposalChange, error) {
	if len(failures) == 0 {
		return nil, nil, nil
	}

	schema, err := models.ParseSchema(currentSchema)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s schema: %w", direction, err)
	}
	proposed := schema.Clone()

	var changes []models.ProposalChange
	for _, failure := range failures {
		report := openReports[failure.Fingerprint()]
		change, applied := applyEdit(proposed, failure, report.ID)
		if !applied {
			continue
		}
		change.Direction = direction
		changes = append(changes, change)
	}

	if len(changes) == 0 {
		return nil, nil, nil
	}

	encoded, err := json.Marshal(proposed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode proposed %s schema: %w", direction, err)
	}
	return encoded, changes, nil
}

// applyEdit classifies one failure via the issue-code map and performs the
// corresponding structural edit on the schema tree. Returns false for issue
// codes the engine does not remediate on the failure's direction.
func applyEdit(schema *models.SchemaNode, failure *models.ValidationFailure, reportID uuid.UUID) (models.ProposalChange, bool) {
	change := models.ProposalChange{
		FieldPath:     failure.FieldPath,
		DriftReportID: reportID,
	}

	switch failure.IssueCode {
	case models.IssueTypeMismatch:
		field := navigateField(schema, failure.FieldPath)
		change.BeforeValue = mustJSON(field.Type)
		if failure.ReceivedType == models.SchemaTypeNull {
			field.AddType(models.SchemaTypeNull)
			change.ChangeType = models.ChangeTypeFieldMadeNullable
			change.Description = fmt.Sprintf(
				"Field %q returned null in %d calls; its type now allows null.",
				failure.FieldPath, failure.FailureCount)
		} else {
			field.SetType(inferSchemaType(failure.ReceivedType))
			change.ChangeType = models.ChangeTypeFieldTypeChanged
			change.Description = fmt.Sprintf(
				"Field %q expected %s but received %s in %d calls; type updated.",
				failure.FieldPath, failure.ExpectedType, failure.ReceivedType, failure.FailureCount)
		}
		change.AfterValue = mustJSON(field.Type)
		return change, true

	case models.IssueUnexpectedField:
		if failure.Direction != models.DirectionOutput {
			return change, false
		}
		field := navigateField(schema, failure.FieldPath)
		field.SetType(inferSchemaType(failure.ReceivedType))
		change.ChangeType = models.ChangeTypeFieldAdded
		change.Description = fmt.Sprintf(
			"Undocumented field %q appeared in %d responses; added as optional %s.",
			failure.FieldPath, failure.FailureCount, field.Type[0])
		change.AfterValue = mustJSON(field.Type)
		return change, true

	case models.IssueMissingRequired:
		if failure.Direction == models.DirectionInput {
			field := navigateField(schema, failure.FieldPath)
			field.SetType(inferSchemaType(failure.ExpectedType))
			container, name := navigateContainer(schema, failure.FieldPath)
			container.RequireField(name)
			change.ChangeType = models.ChangeTypeFieldAddedRequired
			change.Description = fmt.Sprintf(
				"Field %q was rejected as missing in %d requests; added as required %s.",
				failure.FieldPath, failure.FailureCount, field.Type[0])
			change.AfterValue = mustJSON(field.Type)
			return change, true
		}
		container, name := navigateContainer(schema, failure.FieldPath)
		change.BeforeValue = mustJSON(container.Required)
		container.UnrequireField(name)
		change.ChangeType = models.ChangeTypeFieldMadeOptional
		change.Description = fmt.Sprintf(
			"Required field %q was absent from %d responses; no longer required.",
			failure.FieldPath, failure.FailureCount)
		change.AfterValue = mustJSON(container.Required)
		return change, true

	case models.IssueInvalidEnumValue:
		if failure.Direction != models.DirectionOutput {
			return change, false
		}
		field := navigateField(schema, failure.FieldPath)
		change.BeforeValue = mustJSON(field.Enum)
		var received any
		if len(failure.ReceivedValue) > 0 {
			if err := json.Unmarshal(failure.ReceivedValue, &received); err != nil {
				received = string(failure.ReceivedValue)
			}
		}
		field.Enum = append(field.Enum, received)
		change.ChangeType = models.ChangeTypeEnumValueAdded
		change.Description = fmt.Sprintf(
			"Field %q returned value %s outside its enum in %d responses; value added.",
			failure.FieldPath, failure.ReceivedValue, failure.FailureCount)
		change.AfterValue = append(json.RawMessage{}, failure.ReceivedValue...)
		return change, true
	}

	return change, false
}

// navigateContainer walks a dot-separated path and returns the object node
// that holds the path's final segment, plus that segment. Missing
// intermediates are synthesized as empty object schemas; a segment whose
// node is an array is traversed through its items, so paths address the
// element shape rather than the array wrapper.
func navigateContainer(root *models.SchemaNode, path string) (*models.SchemaNode, string) {
	segments := strings.Split(path, ".")
	node := root
	for _, segment := range segments[:len(segments)-1] {
		child := childNode(node, segment)
		if child.Type.Contains(models.SchemaTypeArray) {
			if child.Items == nil {
				child.Items = models.NewObjectNode()
			}
			node = child.Items
		} else {
			node = child
		}
	}
	return node, segments[len(segments)-1]
}

// navigateField returns the leaf node a path addresses, synthesizing it if
// absent.
func navigateField(root *models.SchemaNode, path string) *models.SchemaNode {
	container, name := navigateContainer(root, path)
	return childNode(container, name)
}

func childNode(node *models.SchemaNode, name string) *models.SchemaNode {
	if node.Properties == nil {
		node.Properties = make(map[string]*models.SchemaNode)
	}
	child, ok := node.Properties[name]
	if !ok {
		child = models.NewObjectNode()
		node.Properties[name] = child
	}
	return child
}

var schemaTypeAliases = map[string]string{
	"float": models.SchemaTypeNumber,
	"int":   models.SchemaTypeInteger,
	"bool":  models.SchemaTypeBoolean,
}

// inferSchemaType maps a raw type label from the validator onto a JSON
// Schema type, with string as the fallback for anything unrecognized.
func inferSchemaType(label string) string {
	canonical := strings.ToLower(strings.TrimSpace(label))
	if alias, ok := schemaTypeAliases[canonical]; ok {
		return alias
	}
	switch canonical {
	case models.SchemaTypeString, models.SchemaTypeNumber, models.SchemaTypeInteger,
		models.SchemaTypeBoolean, models.SchemaTypeObject, models.SchemaTypeArray,
		models.SchemaTypeNull:
		return canonical
	}
	return models.SchemaTypeString
}

// buildReasoning renders the one-paragraph summary shown to reviewers:
// drift-signal count, changes per direction, and a tally of change types.
func buildReasoning(reportCount int, inputChanges, outputChanges []models.ProposalChange) string {
	total := len(inputChanges) + len(outputChanges)
	if total == 0 {
		return ""
	}

	tally := make(map[string]int)
	for _, change := range inputChanges {
		tally[change.ChangeType]++
	}
	for _, change := range outputChanges {
		tally[change.ChangeType]++
	}

	labels := make([]string, 0, len(tally))
	for changeType := range tally {
		labels = append(labels, changeType)
	}
	sort.Strings(labels)

	parts := make([]string, 0, len(labels))
	for _, changeType := range labels {
		label := strings.ReplaceAll(changeType, "_", " ")
		count := tally[changeType]
		if count != 1 {
			label = inflection.Plural(label)
		}
		parts = append(parts, fmt.Sprintf("%d %s", count, label))
	}

	return fmt.Sprintf(
		"Analyzed %d drift %s and derived %d schema %s (%d input, %d output): %s.",
		reportCount, pluralize("signal", reportCount),
		total, pluralize("change", total),
		len(inputChanges), len(outputChanges),
		strings.Join(parts, ", "))
}

func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return inflection.Plural(word)
}

func mustJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return encoded
}

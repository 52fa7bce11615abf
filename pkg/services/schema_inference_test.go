package services

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skein-ai/skein-engine/pkg/models"
)

func openReport(actionID uuid.UUID, direction, issueCode, fieldPath string) *models.DriftReport {
	return &models.DriftReport{
		ID:        uuid.New(),
		ActionID:  actionID,
		Direction: direction,
		IssueCode: issueCode,
		FieldPath: fieldPath,
		Status:    models.DriftStatusDetected,
	}
}

func parseProposed(t *testing.T, raw json.RawMessage) *models.SchemaNode {
	t.Helper()
	node, err := models.ParseSchema(raw)
	require.NoError(t, err)
	return node
}

func TestInferSchemaUpdatesNoMatchingFailures(t *testing.T) {
	actionID := uuid.New()
	reports := []*models.DriftReport{
		openReport(actionID, models.DirectionOutput, models.IssueTypeMismatch, "status"),
	}
	failures := []*models.ValidationFailure{
		{ActionID: actionID, Direction: models.DirectionOutput, IssueCode: models.IssueTypeMismatch, FieldPath: "other_field"},
	}

	result, err := InferSchemaUpdates(actionID, reports, failures, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, result.ProposedInputSchema)
	assert.Nil(t, result.ProposedOutputSchema)
	assert.Empty(t, result.Changes)
	assert.Empty(t, result.Reasoning)
}

func TestInferSchemaUpdatesIgnoresResolvedReports(t *testing.T) {
	actionID := uuid.New()
	resolved := openReport(actionID, models.DirectionOutput, models.IssueTypeMismatch, "status")
	resolved.Status = models.DriftStatusResolved

	failures := []*models.ValidationFailure{
		{ActionID: actionID, Direction: models.DirectionOutput, IssueCode: models.IssueTypeMismatch, FieldPath: "status", ReceivedType: "null", FailureCount: 4},
	}

	result, err := InferSchemaUpdates(actionID, []*models.DriftReport{resolved}, failures, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Changes)
}

func TestInferSchemaUpdatesNullMismatchBecomesNullable(t *testing.T) {
	actionID := uuid.New()
	report := openReport(actionID, models.DirectionOutput, models.IssueTypeMismatch, "status")
	failures := []*models.ValidationFailure{
		{ActionID: actionID, Direction: models.DirectionOutput, IssueCode: models.IssueTypeMismatch, FieldPath: "status", ExpectedType: "string", ReceivedType: "null", FailureCount: 4},
	}
	current := json.RawMessage(`{"type":"object","properties":{"status":{"type":"string"}}}`)

	result, err := InferSchemaUpdates(actionID, []*models.DriftReport{report}, failures, nil, current)
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, models.ChangeTypeFieldMadeNullable, result.Changes[0].ChangeType)
	assert.Equal(t, report.ID, result.Changes[0].DriftReportID)

	proposed := parseProposed(t, result.ProposedOutputSchema)
	field := proposed.Properties["status"]
	require.NotNil(t, field)
	assert.True(t, field.Type.Contains(models.SchemaTypeString))
	assert.True(t, field.Type.Contains(models.SchemaTypeNull))
}

func TestInferSchemaUpdatesMissingRequiredByDirection(t *testing.T) {
	actionID := uuid.New()

	t.Run("input adds required field", func(t *testing.T) {
		report := openReport(actionID, models.DirectionInput, models.IssueMissingRequired, "customer_id")
		failures := []*models.ValidationFailure{
			{ActionID: actionID, Direction: models.DirectionInput, IssueCode: models.IssueMissingRequired, FieldPath: "customer_id", ExpectedType: "string", FailureCount: 2},
		}
		current := json.RawMessage(`{"type":"object","properties":{}}`)

		result, err := InferSchemaUpdates(actionID, []*models.DriftReport{report}, failures, current, nil)
		require.NoError(t, err)
		require.Len(t, result.Changes, 1)
		assert.Equal(t, models.ChangeTypeFieldAddedRequired, result.Changes[0].ChangeType)

		proposed := parseProposed(t, result.ProposedInputSchema)
		require.Contains(t, proposed.Properties, "customer_id")
		assert.Contains(t, proposed.Required, "customer_id")
	})

	t.Run("output makes field optional", func(t *testing.T) {
		report := openReport(actionID, models.DirectionOutput, models.IssueMissingRequired, "total")
		failures := []*models.ValidationFailure{
			{ActionID: actionID, Direction: models.DirectionOutput, IssueCode: models.IssueMissingRequired, FieldPath: "total", FailureCount: 5},
		}
		current := json.RawMessage(`{"type":"object","properties":{"total":{"type":"number"}},"required":["total"]}`)

		result, err := InferSchemaUpdates(actionID, []*models.DriftReport{report}, failures, nil, current)
		require.NoError(t, err)
		require.Len(t, result.Changes, 1)
		assert.Equal(t, models.ChangeTypeFieldMadeOptional, result.Changes[0].ChangeType)

		proposed := parseProposed(t, result.ProposedOutputSchema)
		assert.Contains(t, proposed.Properties, "total")
		assert.NotContains(t, proposed.Required, "total")
	})
}

func TestInferSchemaUpdatesSynthesizesNestedPath(t *testing.T) {
	actionID := uuid.New()
	reports := []*models.DriftReport{
		openReport(actionID, models.DirectionOutput, models.IssueUnexpectedField, "user.profile.email"),
		openReport(actionID, models.DirectionOutput, models.IssueTypeMismatch, "user.profile.email"),
	}
	failures := []*models.ValidationFailure{
		{ActionID: actionID, Direction: models.DirectionOutput, IssueCode: models.IssueUnexpectedField, FieldPath: "user.profile.email", ReceivedType: "string", FailureCount: 3},
		{ActionID: actionID, Direction: models.DirectionOutput, IssueCode: models.IssueTypeMismatch, FieldPath: "user.profile.email", ExpectedType: "string", ReceivedType: "null", FailureCount: 1},
	}

	result, err := InferSchemaUpdates(actionID, reports, failures, nil, json.RawMessage(`{"type":"object"}`))
	require.NoError(t, err)
	require.Len(t, result.Changes, 2)

	proposed := parseProposed(t, result.ProposedOutputSchema)
	user := proposed.Properties["user"]
	require.NotNil(t, user)
	assert.True(t, user.Type.Contains(models.SchemaTypeObject))
	profile := user.Properties["profile"]
	require.NotNil(t, profile)
	email := profile.Properties["email"]
	require.NotNil(t, email)
	assert.True(t, email.Type.Contains(models.SchemaTypeString))
	assert.True(t, email.Type.Contains(models.SchemaTypeNull))
}

func TestInferSchemaUpdatesDescendsIntoArrayItems(t *testing.T) {
	actionID := uuid.New()
	report := openReport(actionID, models.DirectionOutput, models.IssueTypeMismatch, "items.price")
	failures := []*models.ValidationFailure{
		{ActionID: actionID, Direction: models.DirectionOutput, IssueCode: models.IssueTypeMismatch, FieldPath: "items.price", ExpectedType: "integer", ReceivedType: "float", FailureCount: 7},
	}
	current := json.RawMessage(`{
		"type": "object",
		"properties": {
			"items": {"type": "array", "items": {"type": "object", "properties": {"price": {"type": "integer"}}}}
		}
	}`)

	result, err := InferSchemaUpdates(actionID, []*models.DriftReport{report}, failures, nil, current)
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, models.ChangeTypeFieldTypeChanged, result.Changes[0].ChangeType)

	proposed := parseProposed(t, result.ProposedOutputSchema)
	price := proposed.Properties["items"].Items.Properties["price"]
	require.NotNil(t, price)
	assert.Equal(t, models.TypeSet{models.SchemaTypeNumber}, price.Type)
}

func TestInferSchemaUpdatesEnumValueAdded(t *testing.T) {
	actionID := uuid.New()
	report := openReport(actionID, models.DirectionOutput, models.IssueInvalidEnumValue, "status")
	failures := []*models.ValidationFailure{
		{ActionID: actionID, Direction: models.DirectionOutput, IssueCode: models.IssueInvalidEnumValue, FieldPath: "status", ReceivedValue: json.RawMessage(`"archived"`), FailureCount: 3},
	}
	current := json.RawMessage(`{"type":"object","properties":{"status":{"type":"string","enum":["open","closed"]}}}`)

	result, err := InferSchemaUpdates(actionID, []*models.DriftReport{report}, failures, nil, current)
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, models.ChangeTypeEnumValueAdded, result.Changes[0].ChangeType)
	assert.Equal(t, json.RawMessage(`"archived"`), result.Changes[0].AfterValue)

	proposed := parseProposed(t, result.ProposedOutputSchema)
	assert.Equal(t, []any{"open", "closed", "archived"}, proposed.Properties["status"].Enum)
}

func TestInferSchemaUpdatesDiscardsDirectionWithoutEdits(t *testing.T) {
	actionID := uuid.New()
	// unexpected_field is not remediated on the input direction.
	report := openReport(actionID, models.DirectionInput, models.IssueUnexpectedField, "debug")
	failures := []*models.ValidationFailure{
		{ActionID: actionID, Direction: models.DirectionInput, IssueCode: models.IssueUnexpectedField, FieldPath: "debug", ReceivedType: "boolean", FailureCount: 1},
	}

	result, err := InferSchemaUpdates(actionID, []*models.DriftReport{report}, failures, json.RawMessage(`{"type":"object"}`), nil)
	require.NoError(t, err)
	assert.Nil(t, result.ProposedInputSchema)
	assert.Empty(t, result.Changes)
	assert.Empty(t, result.Reasoning)
}

func TestInferSchemaUpdatesReasoningTally(t *testing.T) {
	actionID := uuid.New()
	reports := []*models.DriftReport{
		openReport(actionID, models.DirectionOutput, models.IssueTypeMismatch, "a"),
		openReport(actionID, models.DirectionOutput, models.IssueTypeMismatch, "b"),
		openReport(actionID, models.DirectionOutput, models.IssueUnexpectedField, "c"),
	}
	failures := []*models.ValidationFailure{
		{ActionID: actionID, Direction: models.DirectionOutput, IssueCode: models.IssueTypeMismatch, FieldPath: "a", ReceivedType: "integer", FailureCount: 2},
		{ActionID: actionID, Direction: models.DirectionOutput, IssueCode: models.IssueTypeMismatch, FieldPath: "b", ReceivedType: "boolean", FailureCount: 1},
		{ActionID: actionID, Direction: models.DirectionOutput, IssueCode: models.IssueUnexpectedField, FieldPath: "c", ReceivedType: "string", FailureCount: 1},
	}

	result, err := InferSchemaUpdates(actionID, reports, failures, nil, json.RawMessage(`{"type":"object"}`))
	require.NoError(t, err)
	assert.Contains(t, result.Reasoning, "3 drift signals")
	assert.Contains(t, result.Reasoning, "2 field type changeds")
	assert.Contains(t, result.Reasoning, "1 field added")
}

func TestInferSchemaUpdatesSameFieldBothDirections(t *testing.T) {
	actionID := uuid.New()

	// The same code and path drifting on both directions must stay two
	// distinct signals, each change attributed to its own report.
	inputReport := openReport(actionID, models.DirectionInput, models.IssueTypeMismatch, "amount")
	outputReport := openReport(actionID, models.DirectionOutput, models.IssueTypeMismatch, "amount")
	failures := []*models.ValidationFailure{
		{ActionID: actionID, Direction: models.DirectionInput, IssueCode: models.IssueTypeMismatch, FieldPath: "amount", ExpectedType: "string", ReceivedType: "number", FailureCount: 2},
		{ActionID: actionID, Direction: models.DirectionOutput, IssueCode: models.IssueTypeMismatch, FieldPath: "amount", ExpectedType: "string", ReceivedType: "null", FailureCount: 3},
	}
	current := json.RawMessage(`{"type":"object","properties":{"amount":{"type":"string"}}}`)

	result, err := InferSchemaUpdates(actionID,
		[]*models.DriftReport{inputReport, outputReport}, failures, current, current)
	require.NoError(t, err)
	require.Len(t, result.Changes, 2)
	require.NotNil(t, result.ProposedInputSchema)
	require.NotNil(t, result.ProposedOutputSchema)

	byDirection := make(map[string]models.ProposalChange)
	for _, change := range result.Changes {
		byDirection[change.Direction] = change
	}
	assert.Equal(t, inputReport.ID, byDirection[models.DirectionInput].DriftReportID)
	assert.Equal(t, outputReport.ID, byDirection[models.DirectionOutput].DriftReportID)
	assert.Equal(t, models.ChangeTypeFieldTypeChanged, byDirection[models.DirectionInput].ChangeType)
	assert.Equal(t, models.ChangeTypeFieldMadeNullable, byDirection[models.DirectionOutput].ChangeType)
}

func TestInferSchemaUpdatesDoesNotMutateCurrentSchema(t *testing.T) {
	actionID := uuid.New()
	report := openReport(actionID, models.DirectionOutput, models.IssueTypeMismatch, "status")
	failures := []*models.ValidationFailure{
		{ActionID: actionID, Direction: models.DirectionOutput, IssueCode: models.IssueTypeMismatch, FieldPath: "status", ReceivedType: "null", FailureCount: 1},
	}
	current := json.RawMessage(`{"type":"object","properties":{"status":{"type":"string"}}}`)
	before := string(current)

	_, err := InferSchemaUpdates(actionID, []*models.DriftReport{report}, failures, nil, current)
	require.NoError(t, err)
	assert.Equal(t, before, string(current))
}

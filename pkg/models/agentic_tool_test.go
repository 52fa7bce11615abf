package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolAllocationParameterInterpreter(t *testing.T) {
	raw := []byte(`{
		"mode": "parameter_interpreter",
		"targetActions": [
			{"actionId": "4f1c0a4e-9a6a-4f6e-8f4c-1f9a2b3c4d5e"},
			{"actionId": "9b8a7c6d-5e4f-3a2b-1c0d-e9f8a7b6c5d4"}
		]
	}`)

	var alloc ToolAllocation
	require.NoError(t, json.Unmarshal(raw, &alloc))
	assert.Equal(t, AllocationModeParameterInterpreter, alloc.Mode)
	require.NotNil(t, alloc.ParameterInterpreter)
	assert.Nil(t, alloc.AutonomousAgent)
	assert.Len(t, alloc.ParameterInterpreter.TargetActions, 2)

	encoded, err := json.Marshal(alloc)
	require.NoError(t, err)

	var decoded ToolAllocation
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, alloc.ParameterInterpreter.TargetActions, decoded.ParameterInterpreter.TargetActions)
}

func TestToolAllocationAutonomousAgent(t *testing.T) {
	raw := []byte(`{
		"mode": "autonomous_agent",
		"availableTools": [
			{"actionId": "4f1c0a4e-9a6a-4f6e-8f4c-1f9a2b3c4d5e", "name": "list_invoices", "description": "List invoices for a customer."}
		]
	}`)

	var alloc ToolAllocation
	require.NoError(t, json.Unmarshal(raw, &alloc))
	assert.Equal(t, AllocationModeAutonomousAgent, alloc.Mode)
	require.NotNil(t, alloc.AutonomousAgent)
	assert.Nil(t, alloc.ParameterInterpreter)
	require.Len(t, alloc.AutonomousAgent.AvailableTools, 1)
	assert.Equal(t, "list_invoices", alloc.AutonomousAgent.AvailableTools[0].Name)
}

func TestToolAllocationUnknownMode(t *testing.T) {
	var alloc ToolAllocation
	err := json.Unmarshal([]byte(`{"mode": "orchestrator"}`), &alloc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown allocation mode")
}

func TestAgenticToolParseAllocation(t *testing.T) {
	tool := &AgenticTool{Allocation: json.RawMessage(`{"mode": "parameter_interpreter", "targetActions": []}`)}
	alloc, err := tool.ParseAllocation()
	require.NoError(t, err)
	assert.Equal(t, AllocationModeParameterInterpreter, alloc.Mode)

	tool.Allocation = json.RawMessage(`not json`)
	_, err = tool.ParseAllocation()
	assert.Error(t, err)
}

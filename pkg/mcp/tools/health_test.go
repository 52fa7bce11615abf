package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(context.Context) error { return p.err }

func callHealthTool(t *testing.T, db Pinger) healthResult {
	t.Helper()

	mcpServer := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterHealthTool(mcpServer, "1.2.3", db)

	request := `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"health"},"id":1}`
	result := mcpServer.HandleMessage(context.Background(), []byte(request))

	resultBytes, err := json.Marshal(result)
	require.NoError(t, err)

	var response struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))
	require.NotEmpty(t, response.Result.Content)

	var health healthResult
	require.NoError(t, json.Unmarshal([]byte(response.Result.Content[0].Text), &health))
	return health
}

func TestHealthToolDatabaseReachable(t *testing.T) {
	health := callHealthTool(t, &stubPinger{})

	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "skein-engine", health.Service)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Equal(t, "ok", health.Database)
}

func TestHealthToolDatabaseUnreachable(t *testing.T) {
	health := callHealthTool(t, &stubPinger{err: errors.New("connection refused")})

	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "unreachable", health.Database)
}

package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/seiri-ai/seiri/internal/agent"
	"github.com/seiri-ai/seiri/internal/audit"
	"github.com/seiri-ai/seiri/internal/breaker"
	"github.com/seiri-ai/seiri/internal/kb"
	"github.com/seiri-ai/seiri/internal/model"
	"github.com/seiri-ai/seiri/internal/orchestrator"
)

type stubRetriever struct{}

func (stubRetriever) DecisionSupport(context.Context, string, string, int) (map[string][]kb.Hit, error) {
	return nil, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	store, err := audit.NewFileStore(filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	chain, err := audit.NewChain(store)
	require.NoError(t, err)

	teams := model.NewTeamRegistry(nil)
	steps := []agent.Step{
		agent.NewClassifier(nil, nil, 0.8, logger),
		agent.NewRiskScorer(nil, 0.7, 0.4, logger),
		agent.NewRouter(nil, teams, logger),
		agent.NewDecisionSupport(stubRetriever{}, logger),
		agent.NewCompliance(chain, true, logger),
	}
	orch := orchestrator.New(steps, breaker.New(5, time.Minute), teams, nil, 3, time.Second, logger)
	return New(orch, chain, logger, "test")
}

func callRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

func TestTriageCaseTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleTriageCase(context.Background(), callRequest("triage_case", map[string]any{
		"title":          "Suspicious duplicate claim",
		"description":    "Multiple claims submitted within 48 hours on a brand-new policy",
		"amount":         15000.0,
		"case_type_hint": "fraud_review",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, "fraud_review", resp["case_type"])
	assert.Equal(t, "Escalation", resp["recommended_team"])
	assert.Equal(t, true, resp["escalation_flag"])
	assert.NotEmpty(t, resp["audit_id"])
}

func TestTriageCaseToolRejectsEmptyTitle(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleTriageCase(context.Background(), callRequest("triage_case", map[string]any{
		"title":       "",
		"description": "d",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestVerifyAuditChainTool(t *testing.T) {
	s := newTestServer(t)

	_, err := s.handleTriageCase(context.Background(), callRequest("triage_case", map[string]any{
		"title":       "Minor fender bender",
		"description": "Low-speed collision, small dent",
	}))
	require.NoError(t, err)

	result, err := s.handleVerifyAuditChain(context.Background(), callRequest("verify_audit_chain", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp model.AuditVerifyResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.True(t, resp.Valid)
	assert.Equal(t, 1, resp.Entries)
}

func TestListTeamsTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleListTeams(context.Background(), callRequest("list_teams", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var teams []model.Team
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &teams))
	assert.Len(t, teams, len(model.DefaultTeams()))
}

func TestTeamsResource(t *testing.T) {
	s := newTestServer(t)

	contents, err := s.handleTeamsResource(context.Background(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "seiri://teams"},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "seiri://teams", text.URI)
	assert.Contains(t, text.Text, "Tier-1")
}

// Package mcp implements the Model Context Protocol surface of the triage
// core, exposing triage, audit verification, and the team catalogue to
// MCP-compatible agents.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/seiri-ai/seiri/internal/audit"
	"github.com/seiri-ai/seiri/internal/model"
	"github.com/seiri-ai/seiri/internal/orchestrator"
)

// Server wraps the MCP server around the triage orchestrator.
type Server struct {
	mcpServer *mcpserver.MCPServer
	orch      *orchestrator.Orchestrator
	chain     *audit.Chain
	logger    *slog.Logger
}

// New creates and configures an MCP server with all resources and tools.
func New(orch *orchestrator.Orchestrator, chain *audit.Chain, logger *slog.Logger, version string) *Server {
	s := &Server{
		orch:   orch,
		chain:  chain,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"seiri",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// seiri://teams — the team catalogue with live load.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"seiri://teams",
			"Teams",
			mcplib.WithResourceDescription("Routing teams with capacity, current load, and SLA targets"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTeamsResource,
	)
}

func (s *Server) registerTools() {
	// triage_case — run the full pipeline for one case.
	s.mcpServer.AddTool(
		mcplib.NewTool("triage_case",
			mcplib.WithDescription(`Triage an operational case: classify it, score its risk, route it to a team, and produce decision support with a compliance audit record.

WHAT YOU GET BACK: case_type, urgency, risk_score/risk_level, the
recommended team with its SLA target, suggested actions, and whether PII
was detected (PII is redacted before anything is persisted).

EXAMPLE: title="Suspicious duplicate claim", description="Two claims filed
within 48 hours on a new policy", amount=15000, case_type_hint="fraud_review"`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("title",
				mcplib.Description("Short case title"),
				mcplib.Required(),
			),
			mcplib.WithString("description",
				mcplib.Description("Full case description"),
				mcplib.Required(),
			),
			mcplib.WithNumber("amount",
				mcplib.Description("Monetary amount in dispute, if any"),
				mcplib.Min(0),
			),
			mcplib.WithString("customer_id",
				mcplib.Description("Customer identifier, if known"),
			),
			mcplib.WithString("case_type_hint",
				mcplib.Description("Submitter's guess at the case type: insurance_claim, healthcare_prior_auth, bank_dispute, legal_intake, or fraud_review. Weighed, not trusted."),
			),
			mcplib.WithString("urgency_hint",
				mcplib.Description("Submitter's guess at urgency: low, medium, high, or critical"),
			),
		),
		s.handleTriageCase,
	)

	// verify_audit_chain — recompute and check the hash chain.
	s.mcpServer.AddTool(
		mcplib.NewTool("verify_audit_chain",
			mcplib.WithDescription("Verify the tamper-evident audit hash chain: recompute every entry hash and check the previous-hash linkage."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleVerifyAuditChain,
	)

	// list_teams — the routing team catalogue.
	s.mcpServer.AddTool(
		mcplib.NewTool("list_teams",
			mcplib.WithDescription("List the routing teams with their accepted case types, capacity, current load, and SLA targets."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleListTeams,
	)
}

func (s *Server) handleTriageCase(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	kase := model.Case{
		Title:       request.GetString("title", ""),
		Description: request.GetString("description", ""),
		CustomerID:  request.GetString("customer_id", ""),
		TypeHint:    model.CaseType(request.GetString("case_type_hint", "")),
		UrgencyHint: model.Urgency(request.GetString("urgency_hint", "")),
	}
	if amount := request.GetFloat("amount", -1); amount >= 0 {
		kase.Amount = &amount
	}

	decision, err := s.orch.Triage(ctx, &kase)
	if err != nil {
		return errorResult(fmt.Sprintf("triage failed: %v", err)), nil
	}

	summary := map[string]any{
		"case_id":            decision.CaseID,
		"case_type":          decision.Classification.CaseType,
		"urgency":            decision.Classification.Urgency,
		"missing_fields":     decision.Classification.MissingFields,
		"risk_score":         decision.RiskScore.RiskScore,
		"risk_level":         decision.RiskScore.RiskLevel,
		"recommended_team":   decision.Routing.RecommendedTeam,
		"sla_target_hours":   decision.Routing.SLATargetHours,
		"escalation_flag":    decision.Routing.EscalationFlag,
		"suggested_actions":  decision.DecisionSupport.SuggestedActions,
		"pii_detected":       decision.Compliance.PIIDetected,
		"compliance_issues":  decision.Compliance.ComplianceIssues,
		"audit_id":           decision.Compliance.AuditID,
		"overall_confidence": decision.OverallConfidence,
	}
	return jsonResult(summary)
}

func (s *Server) handleVerifyAuditChain(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	entries, err := s.chain.Verify()
	resp := model.AuditVerifyResponse{Valid: err == nil, Entries: entries}
	if err != nil {
		resp.Error = err.Error()
	}
	return jsonResult(resp)
}

func (s *Server) handleListTeams(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return jsonResult(s.orch.Teams().List())
}

func (s *Server) handleTeamsResource(_ context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal(s.orch.Teams().List())
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal teams: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

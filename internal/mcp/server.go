// Package mcp exposes rule management to MCP clients over streamable HTTP.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/rule"
	"github.com/colebrumley/areamgr/internal/state"
)

// History reads execution records.
type History interface {
	GetHistory(ctx context.Context, f state.HistoryFilter) ([]state.ExecutionRecord, error)
}

// Server wraps the MCP server with rule tools
type Server struct {
	manager *engine.Manager
	history History
	server  *mcp.Server
}

// ListRulesInput is the input schema for the list_rules tool
type ListRulesInput struct {
	Owner string `json:"owner,omitempty" jsonschema:"Only list rules owned by this owner id"`
}

// RuleSummary is one rule in list results
type RuleSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Owner    string `json:"owner"`
	Enabled  bool   `json:"enabled"`
	Trigger  string `json:"trigger"`
	Reaction string `json:"reaction"`
}

// ListRulesOutput is the output schema for the list_rules tool
type ListRulesOutput struct {
	Rules []RuleSummary `json:"rules"`
	Count int           `json:"count"`
}

// SetEnabledInput is the input schema for the set_rule_enabled tool
type SetEnabledInput struct {
	ID      string `json:"id" jsonschema:"Rule id"`
	Enabled bool   `json:"enabled" jsonschema:"Whether the rule should be active"`
}

// RuleIDInput is the input schema for tools that take only a rule id
type RuleIDInput struct {
	ID string `json:"id" jsonschema:"Rule id"`
}

// MessageOutput is a plain acknowledgement
type MessageOutput struct {
	Message string `json:"message"`
}

// RunRuleInput is the input schema for the run_rule tool
type RunRuleInput struct {
	ID      string         `json:"id" jsonschema:"Rule id"`
	Payload map[string]any `json:"payload,omitempty" jsonschema:"Event payload the reaction parameters are rendered against"`
}

// RunRuleOutput is the output schema for the run_rule tool
type RunRuleOutput struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// HistoryInput is the input schema for the get_history tool
type HistoryInput struct {
	RuleID  string `json:"rule_id,omitempty" jsonschema:"Only records for this rule"`
	Owner   string `json:"owner,omitempty" jsonschema:"Only records for this owner"`
	Outcome string `json:"outcome,omitempty" jsonschema:"success, config_error, auth_error or execution_error"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum records, default 20"`
}

// HistoryOutput is the output schema for the get_history tool
type HistoryOutput struct {
	Records []state.ExecutionRecord `json:"records"`
	Count   int                     `json:"count"`
}

// NewServer creates a new MCP server with rule tools
func NewServer(manager *engine.Manager, history History) *Server {
	s := &Server{manager: manager, history: history}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "areamgr",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_rules",
		Description: "List automation rules with their trigger, reaction and enabled state.",
	}, s.handleListRules)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_rule_enabled",
		Description: "Enable or disable a rule. Disabled timer rules stop firing immediately.",
	}, s.handleSetEnabled)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_rule",
		Description: "Delete a rule permanently.",
	}, s.handleDeleteRule)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_rule",
		Description: "Run a rule's reaction now with an optional payload, bypassing its trigger.",
	}, s.handleRunRule)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_history",
		Description: "Show recent rule executions, newest first.",
	}, s.handleHistory)

	s.server = server
	return s
}

func (s *Server) handleListRules(ctx context.Context, req *mcp.CallToolRequest, input ListRulesInput) (*mcp.CallToolResult, ListRulesOutput, error) {
	rules, err := s.manager.List(ctx, input.Owner)
	if err != nil {
		return nil, ListRulesOutput{}, fmt.Errorf("failed to list rules: %w", err)
	}
	out := ListRulesOutput{Rules: make([]RuleSummary, len(rules)), Count: len(rules)}
	for i, r := range rules {
		out.Rules[i] = RuleSummary{
			ID:       r.ID,
			Name:     r.Name,
			Owner:    r.OwnerID,
			Enabled:  r.Enabled,
			Trigger:  r.Action.Provider + "/" + r.Action.Kind,
			Reaction: r.Reaction.Provider + "/" + r.Reaction.Kind,
		}
	}
	return nil, out, nil
}

func (s *Server) handleSetEnabled(ctx context.Context, req *mcp.CallToolRequest, input SetEnabledInput) (*mcp.CallToolResult, MessageOutput, error) {
	r, err := s.manager.SetEnabled(ctx, input.ID, input.Enabled)
	if err != nil {
		return nil, MessageOutput{}, notFound(input.ID, err)
	}
	status := "disabled"
	if r.Enabled {
		status = "enabled"
	}
	return nil, MessageOutput{Message: fmt.Sprintf("Rule %s %s", r.DisplayName(), status)}, nil
}

func (s *Server) handleDeleteRule(ctx context.Context, req *mcp.CallToolRequest, input RuleIDInput) (*mcp.CallToolResult, MessageOutput, error) {
	deleted, err := s.manager.Delete(ctx, input.ID)
	if err != nil {
		return nil, MessageOutput{}, fmt.Errorf("failed to delete rule: %w", err)
	}
	if !deleted {
		return nil, MessageOutput{}, fmt.Errorf("rule %s not found", input.ID)
	}
	return nil, MessageOutput{Message: fmt.Sprintf("Deleted rule %s", input.ID)}, nil
}

func (s *Server) handleRunRule(ctx context.Context, req *mcp.CallToolRequest, input RunRuleInput) (*mcp.CallToolResult, RunRuleOutput, error) {
	payload := input.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	out, err := s.manager.Run(ctx, input.ID, payload)
	if err != nil {
		return nil, RunRuleOutput{}, notFound(input.ID, err)
	}
	res := RunRuleOutput{Status: string(out.Status), DurationMs: out.Duration.Milliseconds()}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	return nil, res, nil
}

func (s *Server) handleHistory(ctx context.Context, req *mcp.CallToolRequest, input HistoryInput) (*mcp.CallToolResult, HistoryOutput, error) {
	limit := input.Limit
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	records, err := s.history.GetHistory(ctx, state.HistoryFilter{
		RuleID:  input.RuleID,
		OwnerID: input.Owner,
		Outcome: input.Outcome,
		Limit:   limit,
	})
	if err != nil {
		return nil, HistoryOutput{}, fmt.Errorf("failed to read history: %w", err)
	}
	return nil, HistoryOutput{Records: records, Count: len(records)}, nil
}

func notFound(id string, err error) error {
	if errors.Is(err, rule.ErrNotFound) {
		return fmt.Errorf("rule %s not found", id)
	}
	return err
}

// Handler serves the tools over MCP streamable HTTP.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
}

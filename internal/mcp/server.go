// Package mcp exposes the command pipeline to MCP clients over stdio.
// Tools map one-to-one onto the router's entry points so an MCP host
// gets the same envelopes as the HTTP gateway.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/registry"
	"github.com/basket/taskdeck/internal/router"
)

// Deps wires the MCP server to the pipeline.
type Deps struct {
	Router   *router.Router
	Registry *registry.Registry
	Version  string
}

type connector struct {
	router   *router.Router
	registry *registry.Registry
}

// commandArgs is the argument schema for execute_command.
type commandArgs struct {
	Action     string         `json:"action" jsonschema:"required,description=Command action such as create or read"`
	TargetType string         `json:"target_type" jsonschema:"required,description=Target type such as list or item"`
	TargetID   string         `json:"target_id" jsonschema:"required,description=Identifier of the target"`
	Parameters map[string]any `json:"parameters" jsonschema:"description=Action parameters"`
	AgentID    string         `json:"agent_id" jsonschema:"description=Acting agent id"`
	SessionID  string         `json:"session_id" jsonschema:"description=Existing session id to reuse"`
}

// batchArgs is the argument schema for execute_batch.
type batchArgs struct {
	Commands       []commandArgs `json:"commands" jsonschema:"required,description=Commands to execute in order"`
	AgentID        string        `json:"agent_id" jsonschema:"description=Acting agent id"`
	SessionID      string        `json:"session_id" jsonschema:"description=Existing session id to reuse"`
	Parallel       bool          `json:"parallel" jsonschema:"description=Execute commands concurrently"`
	StopOnError    bool          `json:"stop_on_error" jsonschema:"description=Stop at the first failure"`
	MaxConcurrency int           `json:"max_concurrency" jsonschema:"description=Concurrent command cap in parallel mode"`
}

// New builds the MCP server with all taskdeck tools registered.
func New(deps Deps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	c := &connector{router: deps.Router, registry: deps.Registry}

	s := server.NewMCPServer(
		"taskdeck",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("execute_command",
		mcp.WithDescription("Execute one taskdeck command through the validation, authorization, and dispatch pipeline. Returns the full response envelope."),
	), c.handleExecute)

	s.AddTool(mcp.NewTool("execute_batch",
		mcp.WithDescription("Execute several taskdeck commands as a batch, sequentially or in parallel. Returns one response envelope per executed command."),
	), c.handleBatch)

	s.AddTool(mcp.NewTool("list_capabilities",
		mcp.WithDescription("List the tools and resources exposed by every registered command service."),
	), c.handleCapabilities)

	return s
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (c *connector) handleExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args commandArgs
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	resp := c.router.Execute(ctx, toCommand(args), command.Context{
		AgentID:   args.AgentID,
		SessionID: args.SessionID,
	})
	return jsonResult(resp)
}

func (c *connector) handleBatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args batchArgs
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	cmds := make([]command.Command, len(args.Commands))
	for i, a := range args.Commands {
		cmds[i] = toCommand(a)
	}

	responses := c.router.ExecuteBatch(ctx, cmds, command.Context{
		AgentID:   args.AgentID,
		SessionID: args.SessionID,
	}, router.BatchOptions{
		Parallel:       args.Parallel,
		StopOnError:    args.StopOnError,
		MaxConcurrency: args.MaxConcurrency,
	})
	return jsonResult(map[string]any{"responses": responses})
}

func (c *connector) handleCapabilities(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"tools":     c.registry.ListTools(nil, nil),
		"resources": c.registry.ListResources(nil, nil),
		"health":    c.registry.HealthSummary(),
	})
}

// toCommand maps tool arguments onto the command envelope. Agent and
// session ids go into the command as well as the execution context so
// owner-conditioned rules can match them.
func toCommand(args commandArgs) command.Command {
	return command.Command{
		Action:     command.Action(args.Action),
		TargetType: command.TargetType(args.TargetType),
		TargetID:   args.TargetID,
		Parameters: args.Parameters,
		AgentID:    args.AgentID,
		SessionID:  args.SessionID,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowmcp/flowmcp/pkg/core"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ListWorkflowsTool defines the MCP tool for listing workflows.
var ListWorkflowsTool = mcp.NewTool("list_workflows",
	mcp.WithDescription("List workflows from the workflow-automation instance. Returns id, name, and active state for each workflow."),
	mcp.WithBoolean("active_only",
		mcp.Description("Only return workflows that are currently active."),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of workflows to return (1-100, default 100)."),
	),
)

// GetWorkflowTool defines the MCP tool for fetching a single workflow.
var GetWorkflowTool = mcp.NewTool("get_workflow",
	mcp.WithDescription("Get a workflow by id, including its node graph."),
	mcp.WithString("id",
		mcp.Description("The workflow id."),
		mcp.Required(),
	),
)

// RunWebhookTool defines the MCP tool for triggering a workflow webhook.
var RunWebhookTool = mcp.NewTool("run_webhook",
	mcp.WithDescription("Trigger a workflow via its webhook URL. The workflow must be active and the HTTP method must match the webhook node's configuration."),
	mcp.WithString("webhook_url",
		mcp.Description("Full webhook URL from the workflow (e.g. https://flow.example.com/webhook/abc-def)."),
		mcp.Required(),
	),
	mcp.WithString("method",
		mcp.Description("HTTP method to use (default POST)."),
	),
	mcp.WithObject("data",
		mcp.Description("JSON payload to send with the webhook request."),
	),
)

// HandleListWorkflowsTool returns a handler for list_workflows backed by the
// given client. Requires the mcp:read scope when the caller carries a grant.
func HandleListWorkflowsTool(client Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger := core.LoggerFromCtx(ctx)
		logger.Info("Handling list_workflows tool")

		if err := core.RequireScope(ctx, "mcp:read"); err != nil {
			logger.Warn("Scope check failed", "error", err)
			return nil, err
		}

		activeOnly, _ := request.GetArguments()["active_only"].(bool)
		limit := 0
		if v, ok := request.GetArguments()["limit"].(float64); ok {
			limit = int(v)
		}

		workflows, err := client.ListWorkflows(ctx, activeOnly, limit)
		if err != nil {
			logger.Error("Failed to list workflows", "error", err)
			return nil, err
		}

		data, err := json.Marshal(workflows)
		if err != nil {
			return nil, err
		}
		logger.Info("Listed workflows", "count", len(workflows))
		return mcp.NewToolResultText(string(data)), nil
	}
}

// HandleGetWorkflowTool returns a handler for get_workflow backed by the
// given client. Requires the mcp:read scope when the caller carries a grant.
func HandleGetWorkflowTool(client Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger := core.LoggerFromCtx(ctx)
		logger.Info("Handling get_workflow tool")

		if err := core.RequireScope(ctx, "mcp:read"); err != nil {
			logger.Warn("Scope check failed", "error", err)
			return nil, err
		}

		id, ok := request.GetArguments()["id"].(string)
		if !ok || id == "" {
			return nil, fmt.Errorf("missing id argument")
		}

		wf, err := client.GetWorkflow(ctx, id)
		if err != nil {
			logger.Error("Failed to get workflow", "id", id, "error", err)
			return nil, err
		}

		data, err := json.Marshal(wf)
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

// HandleRunWebhookTool returns a handler for run_webhook backed by the given
// client. Requires the mcp:write scope when the caller carries a grant.
func HandleRunWebhookTool(client Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger := core.LoggerFromCtx(ctx)
		logger.Info("Handling run_webhook tool")

		if err := core.RequireScope(ctx, "mcp:write"); err != nil {
			logger.Warn("Scope check failed", "error", err)
			return nil, err
		}

		args := request.GetArguments()
		webhookURL, ok := args["webhook_url"].(string)
		if !ok || webhookURL == "" {
			return nil, fmt.Errorf("missing webhook_url argument")
		}
		method, _ := args["method"].(string)
		payload, _ := args["data"].(map[string]any)

		result, err := client.RunWebhook(ctx, webhookURL, method, payload)
		if err != nil {
			logger.Error("Webhook request failed", "error", err)
			return nil, err
		}

		data, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		logger.Info("Webhook triggered", "status", result.StatusCode)
		return mcp.NewToolResultText(string(data)), nil
	}
}

// Package operation wires MCP tools into a server, split into read and
// write collections so write tools can be withheld from restricted
// deployments.
package operation

import (
	"github.com/flowmcp/flowmcp/pkg/operation/grant"
	"github.com/flowmcp/flowmcp/pkg/operation/workflow"

	"github.com/mark3labs/mcp-go/server"
)

// RegisterWorkflowTools registers the workflow tools backed by the given
// API client: list_workflows and get_workflow as read operations,
// run_webhook as a write operation.
func RegisterWorkflowTools(s *server.MCPServer, client workflow.Client) {
	tool := &Tool{}

	tool.RegisterRead(server.ServerTool{
		Tool:    workflow.ListWorkflowsTool,
		Handler: workflow.HandleListWorkflowsTool(client),
	})
	tool.RegisterRead(server.ServerTool{
		Tool:    workflow.GetWorkflowTool,
		Handler: workflow.HandleGetWorkflowTool(client),
	})
	tool.RegisterWrite(server.ServerTool{
		Tool:    workflow.RunWebhookTool,
		Handler: workflow.HandleRunWebhookTool(client),
	})

	s.AddTools(tool.Tools()...)
}

// RegisterAuthTools registers the grant-introspection tools.
func RegisterAuthTools(s *server.MCPServer) {
	tool := &Tool{}

	tool.RegisterRead(server.ServerTool{
		Tool:    grant.ShowGrantTool,
		Handler: grant.HandleShowGrantTool,
	})

	s.AddTools(tool.Tools()...)
}

// Tool collects ServerTools to register, keeping write operations separate
// from read operations.
type Tool struct {
	write []server.ServerTool
	read  []server.ServerTool
}

// RegisterWrite adds a ServerTool to the write collection.
func (t *Tool) RegisterWrite(s server.ServerTool) {
	t.write = append(t.write, s)
}

// RegisterRead adds a ServerTool to the read collection.
func (t *Tool) RegisterRead(s server.ServerTool) {
	t.read = append(t.read, s)
}

// Tools returns all registered ServerTools, write tools first.
func (t *Tool) Tools() []server.ServerTool {
	tools := make([]server.ServerTool, 0, len(t.write)+len(t.read))
	tools = append(tools, t.write...)
	tools = append(tools, t.read...)
	return tools
}

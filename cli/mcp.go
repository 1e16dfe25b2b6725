// ABOUTME: MCP server subcommand
// ABOUTME: Exposes the order queue and sync tools to an AI assistant over stdio
package cli

import (
	"context"

	"github.com/harperreed/vendas/handlers"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewMCPServer registers every tool, resource, and prompt against the app's services.
func NewMCPServer(a *App, version string) *mcp.Server {
	orderHandlers := handlers.NewOrderHandlers(a.Queue, a.Config.Session)
	syncHandlers := handlers.NewSyncHandlers(a.Sync, a.Monitor)
	resourceHandlers := handlers.NewResourceHandlers(a.Store, a.Config.Session)
	promptHandlers := handlers.NewPromptHandlers(a.Store)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "vendas",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "evaluate_order",
		Description: "Check an order against the cached commercial policies and tax rules, and compute its totals",
	}, orderHandlers.EvaluateOrder)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "queue_order",
		Description: "Store an order in the offline queue; orders breaking a policy need an approver and a justification",
	}, orderHandlers.QueueOrder)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_queue",
		Description: "List queued orders, optionally filtered by status",
	}, orderHandlers.ListQueue)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "queue_counts",
		Description: "Count queued orders per status",
	}, orderHandlers.QueueCounts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "drain_queue",
		Description: "Send pending orders to the ERP gateway now",
	}, orderHandlers.DrainQueue)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "retry_failed",
		Description: "Requeue failed orders and send them again",
	}, orderHandlers.RetryFailed)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "respond_approval",
		Description: "Approve or reject a policy exception as the signed-in manager",
	}, orderHandlers.RespondApproval)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "full_sync",
		Description: "Refresh every cached reference table from the gateway",
	}, syncHandlers.FullSync)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Show when reference data was last refreshed and whether the gateway is reachable",
	}, syncHandlers.SyncStatus)

	for _, r := range resourceHandlers.Resources() {
		server.AddResource(r, resourceHandlers.ReadResource)
	}
	for _, p := range promptHandlers.Prompts() {
		server.AddPrompt(p, promptHandlers.GetPrompt)
	}

	return server
}

// MCPCommand starts the MCP server on stdio
func MCPCommand(ctx context.Context, a *App, version string) error {
	a.Logger.Info("starting MCP server")
	return NewMCPServer(a, version).Run(ctx, &mcp.StdioTransport{})
}

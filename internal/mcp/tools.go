package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerTools registers all tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	srv.AddTool(
		mcp.NewTool("keymeter_list_keys",
			mcp.WithDescription(
				"List issued API keys: ID, owner, display prefix, name, plan, daily "+
					"quota, active status, and timestamps. Secrets and hashes are never "+
					"returned. Optionally filter by owner.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("owner_id",
				mcp.Description("Only return keys belonging to this owner"),
			),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("keymeter_get_key",
			mcp.WithDescription(
				"Fetch one API key by ID, including plan, daily quota, active status, "+
					"and last-used time.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("key_id",
				mcp.Required(),
				mcp.Description("ID of the key to fetch"),
			),
		),
		s.handleGetKey,
	)

	srv.AddTool(
		mcp.NewTool("keymeter_usage_stats",
			mcp.WithDescription(
				"Summarize a key's usage over a trailing window: call count, token "+
					"totals, average latency, calls today, and per-endpoint breakdown.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("key_id",
				mcp.Required(),
				mcp.Description("ID of the key to summarize"),
			),
			mcp.WithNumber("days",
				mcp.Description("Trailing window in days (default 30, max 365)"),
			),
		),
		s.handleUsageStats,
	)
}

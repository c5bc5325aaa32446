package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/keymeterhq/keymeter/internal/model"
	"github.com/keymeterhq/keymeter/internal/store"
)

// --------------------------------------------------------------------------
// Tool handlers
// --------------------------------------------------------------------------

func (s *MCPServer) handleListKeys(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ownerID := request.GetString("owner_id", "")

	keys, err := s.store.ListAPIKeys(ctx, ownerID)
	if err != nil {
		return toolError("failed to list keys: %v", err)
	}

	out := make([]map[string]interface{}, 0, len(keys))
	for i := range keys {
		out = append(out, keySummary(&keys[i]))
	}
	return successJSON(map[string]interface{}{
		"keys":  out,
		"count": len(out),
	})
}

func (s *MCPServer) handleGetKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keyID, err := request.RequireString("key_id")
	if err != nil {
		return toolError("missing required parameter %q", "key_id")
	}

	key, err := s.store.GetAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return toolError("no key with ID %q", keyID)
		}
		return toolError("failed to load key: %v", err)
	}
	return successJSON(keySummary(key))
}

func (s *MCPServer) handleUsageStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keyID, err := request.RequireString("key_id")
	if err != nil {
		return toolError("missing required parameter %q", "key_id")
	}
	days := clamp(request.GetInt("days", 30), 1, 365)

	if _, err := s.store.GetAPIKey(ctx, keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return toolError("no key with ID %q", keyID)
		}
		return toolError("failed to load key: %v", err)
	}

	summary, err := s.usageSvc.Summarize(ctx, keyID, days)
	if err != nil {
		return toolError("failed to summarize usage: %v", err)
	}
	return successJSON(summary)
}

// keySummary shapes a key for tool output: display prefix, never hash or
// secret.
func keySummary(k *model.APIKey) map[string]interface{} {
	return map[string]interface{}{
		"id":           k.ID,
		"owner_id":     k.OwnerID,
		"key_prefix":   k.KeyPrefix,
		"name":         k.Name,
		"plan":         k.Plan,
		"daily_quota":  k.DailyQuota,
		"is_active":    k.IsActive,
		"created_at":   k.CreatedAt,
		"last_used_at": k.LastUsedAt,
	}
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// clamp constrains val to [min, max].
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

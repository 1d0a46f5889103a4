package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all ORO tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("oro", "1.0.0")
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolGetWalletScore, h.HandleGetWalletScore)
	s.AddTool(ToolGetWalletBadge, h.HandleGetWalletBadge)
	s.AddTool(ToolGetScoringStats, h.HandleGetScoringStats)

	return s
}

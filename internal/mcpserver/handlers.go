package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/oro/internal/reputation"
	"github.com/mbd888/oro/internal/validation"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleGetWalletScore returns a wallet's reputation score.
func (h *Handlers) HandleGetWalletScore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address, errResult := requireAddress(req)
	if errResult != nil {
		return errResult, nil
	}
	refresh := req.GetBool("refresh", false)

	score, err := h.client.GetScore(ctx, address, refresh)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get wallet score: %v", err)), nil
	}
	return mcp.NewToolResultText(formatScore(score)), nil
}

// HandleGetWalletBadge returns a wallet's badge metadata.
func (h *Handlers) HandleGetWalletBadge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address, errResult := requireAddress(req)
	if errResult != nil {
		return errResult, nil
	}

	badge, err := h.client.GetBadge(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get wallet badge: %v", err)), nil
	}
	return mcp.NewToolResultText(formatBadge(badge)), nil
}

// HandleGetScoringStats returns service statistics.
func (h *Handlers) HandleGetScoringStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := h.client.GetStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get scoring stats: %v", err)), nil
	}
	return mcp.NewToolResultText(formatStats(stats)), nil
}

// requireAddress rejects malformed addresses before they reach the API.
func requireAddress(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	address := strings.TrimSpace(req.GetString("address", ""))
	if address == "" {
		return "", mcp.NewToolResultError("address is required")
	}
	if !validation.IsValidAddress(address) {
		return "", mcp.NewToolResultError(fmt.Sprintf("Invalid Ethereum address: %s", address))
	}
	return address, nil
}

// --- Formatting helpers ---

func formatScore(s *reputation.ScoreResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Wallet %s\n", s.Address)
	fmt.Fprintf(&b, "Score: %d/100 (%s)\n", s.Score, s.Tier)
	fmt.Fprintf(&b, "Risk level: %s\n", s.RiskLevel)

	if len(s.RiskFlags) > 0 {
		b.WriteString("Risk flags:\n")
		for _, f := range s.RiskFlags {
			fmt.Fprintf(&b, "  - [%s/%s] %s: %s\n", f.Type, f.Severity, f.Category, f.Message)
		}
	}
	if s.Fallback {
		b.WriteString("Note: chain data was unavailable, this is a provisional score and was not saved.\n")
	} else if !s.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "Last updated: %s\n", s.UpdatedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatBadge(m *reputation.BadgeMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\nImage: %s\n", m.Name, m.Description, m.Image)
	for _, a := range m.Attributes {
		fmt.Fprintf(&b, "%s: %v\n", a.TraitType, formatTrait(a.Value))
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatTrait renders JSON numbers decoded as float64 without a decimal point.
func formatTrait(v any) any {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f)
	}
	return v
}

func formatStats(s *reputation.Stats) string {
	return fmt.Sprintf("Scored wallets: %d\nUpdated recently: %d\nAverage score: %.1f",
		s.TotalWallets, s.RecentlyUpdated, s.AverageScore)
}

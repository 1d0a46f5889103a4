package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the ORO MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetWalletScore = mcp.NewTool("get_wallet_score",
	mcp.WithDescription(
		"Get the ORO reputation score (0-100) for an Ethereum wallet. "+
			"Returns the tier (New/Unproven, Stable, Trusted), the risk level (LOW, MEDIUM, HIGH) "+
			"and any risk flags such as mixer interaction, sanctions or bot-like activity. "+
			"Use this before trusting a counterparty wallet."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Ethereum address, 0x followed by 40 hex characters")),
	mcp.WithBoolean("refresh",
		mcp.Description("Recompute the score from chain data instead of using a recent stored score")),
)

var ToolGetWalletBadge = mcp.NewTool("get_wallet_badge",
	mcp.WithDescription(
		"Get the ERC-721 badge metadata for a wallet: badge name, description, image "+
			"and the Score, Status and Risk Level traits."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Ethereum address, 0x followed by 40 hex characters")),
)

var ToolGetScoringStats = mcp.NewTool("get_scoring_stats",
	mcp.WithDescription(
		"Get ORO service statistics: number of scored wallets, how many were updated recently, "+
			"and the average score."),
)

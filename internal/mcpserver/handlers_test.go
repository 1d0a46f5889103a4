package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/oro/internal/reputation"
	"github.com/mbd888/oro/internal/risk"
	"github.com/mbd888/oro/internal/scoring"
)

const (
	wallet      = "0x8ba1f109551bd432803012645ac136ddd64dba72"
	walletUpper = "0x8BA1F109551BD432803012645AC136DDD64DBA72"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	h := NewHandlers(NewClient(Config{APIURL: ts.URL}))
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// fixedScorer returns the same MEDIUM-risk result for every wallet.
type fixedScorer struct {
	calls    atomic.Int32
	fallback bool
}

func (s *fixedScorer) Score(_ context.Context, addr string) *scoring.Result {
	s.calls.Add(1)
	if s.fallback {
		return scoring.Fallback(addr, time.Now())
	}
	return &scoring.Result{
		Address:   addr,
		Score:     82,
		Tier:      scoring.TierTrusted,
		RiskLevel: risk.LevelMedium,
		RiskFlags: []risk.Flag{{
			Type:     risk.LevelMedium,
			Category: "transaction",
			Message:  "Large transfer detected",
			Severity: risk.SeverityWarning,
		}},
		Metadata: scoring.Metadata{TransactionCount: 320, TokenCount: 7, BalanceEth: 12.5},
	}
}

// apiServer wires the real reputation routes so the client is exercised
// against the response shapes the HTTP API actually produces.
func apiServer(scorer reputation.Scorer) http.Handler {
	gin.SetMode(gin.TestMode)
	svc := reputation.NewService(scorer, reputation.NewMemoryStore())
	r := gin.New()
	reputation.NewHandler(svc, reputation.DefaultBadgeImage).RegisterRoutes(r)
	return r
}

// ============================================================
// Client tests
// ============================================================

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_address",
			"message": "Invalid Ethereum address",
		})
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).GetScore(context.Background(), wallet, false)
	require.Error(t, err)
	assert.Equal(t, "API error (400): Invalid Ethereum address", err.Error())
}

func TestClient_HTTPError_RawBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).GetStats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error (502): upstream down")
}

func TestClient_MalformedJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).GetStats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestClient_Paths(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.RequestURI())
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := NewClient(Config{APIURL: ts.URL})
	ctx := context.Background()
	_, err := c.GetScore(ctx, wallet, false)
	require.NoError(t, err)
	_, err = c.GetScore(ctx, wallet, true)
	require.NoError(t, err)
	_, err = c.GetBadge(ctx, wallet)
	require.NoError(t, err)
	_, err = c.GetStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/score/" + wallet,
		"/score/" + wallet + "?refresh=true",
		"/metadata/" + wallet + ".json",
		"/stats",
	}, paths)
}

func TestClient_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := NewClient(Config{APIURL: url}).GetStats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleGetWalletScore(t *testing.T) {
	h, cleanup := newTestSetup(apiServer(&fixedScorer{}))
	defer cleanup()

	result, err := h.HandleGetWalletScore(context.Background(), makeRequest(map[string]any{"address": walletUpper}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	text := resultText(t, result)
	assert.Contains(t, text, "Wallet "+wallet)
	assert.Contains(t, text, "Score: 82/100 (Trusted)")
	assert.Contains(t, text, "Risk level: MEDIUM")
	assert.Contains(t, text, "[MEDIUM/WARNING] transaction: Large transfer detected")
	assert.Contains(t, text, "Last updated:")
}

func TestHandleGetWalletScore_Refresh(t *testing.T) {
	scorer := &fixedScorer{}
	h, cleanup := newTestSetup(apiServer(scorer))
	defer cleanup()
	ctx := context.Background()

	_, err := h.HandleGetWalletScore(ctx, makeRequest(map[string]any{"address": wallet}))
	require.NoError(t, err)
	_, err = h.HandleGetWalletScore(ctx, makeRequest(map[string]any{"address": wallet}))
	require.NoError(t, err)
	assert.Equal(t, int32(1), scorer.calls.Load(), "fresh score is served from the store")

	_, err = h.HandleGetWalletScore(ctx, makeRequest(map[string]any{"address": wallet, "refresh": true}))
	require.NoError(t, err)
	assert.Equal(t, int32(2), scorer.calls.Load())
}

func TestHandleGetWalletScore_Fallback(t *testing.T) {
	h, cleanup := newTestSetup(apiServer(&fixedScorer{fallback: true}))
	defer cleanup()

	result, err := h.HandleGetWalletScore(context.Background(), makeRequest(map[string]any{"address": wallet}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "provisional score")
	assert.NotContains(t, text, "Last updated")
}

func TestHandleGetWalletScore_InvalidAddress(t *testing.T) {
	var hits atomic.Int32
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer cleanup()

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing", nil, "address is required"},
		{"blank", map[string]any{"address": "  "}, "address is required"},
		{"short", map[string]any{"address": "0x1234"}, "Invalid Ethereum address"},
		{"zero address", map[string]any{"address": "0x0000000000000000000000000000000000000000"}, "Invalid Ethereum address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleGetWalletScore(context.Background(), makeRequest(tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
	assert.Equal(t, int32(0), hits.Load(), "invalid input never reaches the API")
}

func TestHandleGetWalletScore_APIError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"score_failed","message":"Failed to score wallet"}`))
	}))
	defer cleanup()

	result, err := h.HandleGetWalletScore(context.Background(), makeRequest(map[string]any{"address": wallet}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "Failed to get wallet score: API error (500): Failed to score wallet", resultText(t, result))
}

func TestHandleGetWalletBadge(t *testing.T) {
	h, cleanup := newTestSetup(apiServer(&fixedScorer{}))
	defer cleanup()

	result, err := h.HandleGetWalletBadge(context.Background(), makeRequest(map[string]any{"address": wallet}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	text := resultText(t, result)
	assert.Contains(t, text, "ORO Badge - Trusted")
	assert.Contains(t, text, "Reputation badge for "+wallet+". Score: 82/100")
	assert.Contains(t, text, "Image: "+reputation.DefaultBadgeImage)
	assert.Contains(t, text, "Score: 82\n")
	assert.Contains(t, text, "Status: Trusted")
	assert.Contains(t, text, "Risk Level: MEDIUM")
}

func TestHandleGetWalletBadge_InvalidAddress(t *testing.T) {
	h, cleanup := newTestSetup(apiServer(&fixedScorer{}))
	defer cleanup()

	result, err := h.HandleGetWalletBadge(context.Background(), makeRequest(map[string]any{"address": "not-an-address"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGetScoringStats(t *testing.T) {
	h, cleanup := newTestSetup(apiServer(&fixedScorer{}))
	defer cleanup()
	ctx := context.Background()

	result, err := h.HandleGetScoringStats(ctx, makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "Scored wallets: 0\nUpdated recently: 0\nAverage score: 0.0", resultText(t, result))

	_, err = h.HandleGetWalletScore(ctx, makeRequest(map[string]any{"address": wallet}))
	require.NoError(t, err)

	result, err = h.HandleGetScoringStats(ctx, makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "Scored wallets: 1\nUpdated recently: 1\nAverage score: 82.0", resultText(t, result))
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:0"})
	require.NotNil(t, s)

	names := []string{ToolGetWalletScore.Name, ToolGetWalletBadge.Name, ToolGetScoringStats.Name}
	assert.Equal(t, []string{"get_wallet_score", "get_wallet_badge", "get_scoring_stats"}, names)
	assert.Contains(t, ToolGetWalletScore.InputSchema.Required, "address")
	assert.Contains(t, ToolGetWalletBadge.InputSchema.Required, "address")
}

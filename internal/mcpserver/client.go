package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mbd888/oro/internal/reputation"
)

// Config holds the configuration for connecting to the ORO API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
}

// Client is a pure HTTP client for the ORO API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the ORO API.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			// Scoring a fresh wallet can take up to the server's 25s deadline.
			Timeout: 40 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// get fetches path and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GetScore returns the score for a wallet, optionally forcing a rescore.
func (c *Client) GetScore(ctx context.Context, address string, refresh bool) (*reputation.ScoreResponse, error) {
	var q url.Values
	if refresh {
		q = url.Values{"refresh": {"true"}}
	}
	var out reputation.ScoreResponse
	if err := c.get(ctx, "/score/"+url.PathEscape(address), q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBadge returns the ERC-721 badge metadata for a wallet.
func (c *Client) GetBadge(ctx context.Context, address string) (*reputation.BadgeMetadata, error) {
	var out reputation.BadgeMetadata
	if err := c.get(ctx, "/metadata/"+url.PathEscape(address)+".json", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStats returns service statistics.
func (c *Client) GetStats(ctx context.Context) (*reputation.Stats, error) {
	var out reputation.Stats
	if err := c.get(ctx, "/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

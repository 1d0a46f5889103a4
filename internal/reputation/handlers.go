package reputation

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/oro/internal/logging"
	"github.com/mbd888/oro/internal/risk"
	"github.com/mbd888/oro/internal/scoring"
	"github.com/mbd888/oro/internal/validation"
)

// DefaultBadgeImage is used when no metadata image URL is configured.
const DefaultBadgeImage = "https://oro.xyz/badge.png"

// Handler provides HTTP endpoints for wallet scores
type Handler struct {
	service    *Service
	badgeImage string
}

// NewHandler creates a new score handler. badgeImage is the image URL put in
// badge metadata.
func NewHandler(service *Service, badgeImage string) *Handler {
	if badgeImage == "" {
		badgeImage = DefaultBadgeImage
	}
	return &Handler{service: service, badgeImage: badgeImage}
}

// RegisterRoutes sets up score endpoints
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/score/:address", validation.AddressParamMiddleware(), h.GetScore)
	r.GET("/metadata/:file", validation.MetadataFileMiddleware(), h.GetMetadata)
	r.GET("/stats", h.GetStats)
}

// ScoreResponse is the body of GET /score/:address.
type ScoreResponse struct {
	Address   string       `json:"address"`
	Score     int          `json:"score"`
	Status    scoring.Tier `json:"status"`
	Tier      scoring.Tier `json:"tier"`
	RiskLevel risk.Level   `json:"riskLevel"`
	RiskFlags []risk.Flag  `json:"riskFlags"`
	Fallback  bool         `json:"fallback,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// BadgeAttribute is one ERC-721 metadata trait.
type BadgeAttribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// BadgeMetadata is the ERC-721 metadata document for a wallet badge.
type BadgeMetadata struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Image       string           `json:"image"`
	Attributes  []BadgeAttribute `json:"attributes"`
}

// NewScoreResponse shapes a record for the score endpoint.
func NewScoreResponse(rec *WalletRecord) ScoreResponse {
	return ScoreResponse{
		Address:   rec.Address,
		Score:     rec.Score,
		Status:    rec.Tier,
		Tier:      rec.Tier,
		RiskLevel: rec.RiskLevel,
		RiskFlags: rec.RiskFlags,
		Fallback:  rec.Fallback,
		UpdatedAt: rec.LastUpdated,
	}
}

// NewBadgeMetadata builds the ERC-721 metadata for a record.
func NewBadgeMetadata(rec *WalletRecord, image string) BadgeMetadata {
	return BadgeMetadata{
		Name:        fmt.Sprintf("ORO Badge - %s", rec.Tier),
		Description: fmt.Sprintf("Reputation badge for %s. Score: %d/100", rec.Address, rec.Score),
		Image:       image,
		Attributes: []BadgeAttribute{
			{TraitType: "Score", Value: rec.Score},
			{TraitType: "Status", Value: string(rec.Tier)},
			{TraitType: "Risk Level", Value: string(rec.RiskLevel)},
		},
	}
}

// GetScore returns the score for one wallet.
// GET /score/:address?refresh=true
func (h *Handler) GetScore(c *gin.Context) {
	refresh, _ := strconv.ParseBool(c.Query("refresh"))

	rec, ok := h.lookup(c, c.Param("address"), refresh)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, NewScoreResponse(rec))
}

// GetMetadata returns ERC-721 badge metadata.
// GET /metadata/:address.json
func (h *Handler) GetMetadata(c *gin.Context) {
	rec, ok := h.lookup(c, c.GetString("address"), false)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, NewBadgeMetadata(rec, h.badgeImage))
}

// GetStats returns store statistics.
// GET /stats
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("stats query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "stats_failed",
			"message": "Failed to load scoring statistics",
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) lookup(c *gin.Context, address string, refresh bool) (*WalletRecord, bool) {
	rec, err := h.service.GetScore(c.Request.Context(), address, refresh)
	switch {
	case errors.Is(err, ErrInvalidAddress):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "Invalid Ethereum address",
		})
		return nil, false
	case err != nil:
		logging.L(c.Request.Context()).Error("score lookup failed", "address", address, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "score_failed",
			"message": "Failed to compute wallet score",
		})
		return nil, false
	}
	return rec, true
}

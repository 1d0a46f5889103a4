// Package validation provides address validation and input middleware for the ORO API.
package validation

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// zeroAddress is rejected even though it is well-formed.
var zeroAddress = common.Address{}.Hex()

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAddress reports whether addr is a scoreable wallet address:
// "0x" followed by exactly 40 hex characters, and not the zero address.
// Checksum casing is not enforced.
func IsValidAddress(addr string) bool {
	// IsHexAddress also accepts "0X" and unprefixed input.
	if !strings.HasPrefix(addr, "0x") || !common.IsHexAddress(addr) {
		return false
	}
	return !strings.EqualFold(addr, zeroAddress)
}

// NormalizeAddress returns the canonical lowercase form used for comparison,
// set membership and storage. It does not validate.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// AddressParamMiddleware validates the :address URL parameter on routes that use it.
// Apply to route groups that include :address params to reject malformed addresses early.
func AddressParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.Param("address")
		if addr != "" && !IsValidAddress(addr) {
			abortInvalidAddress(c)
			return
		}
		c.Next()
	}
}

// MetadataFileMiddleware validates a ":file" parameter of the form
// "<address>.json" and stores the address under "address" in the context.
func MetadataFileMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr, ok := strings.CutSuffix(c.Param("file"), ".json")
		if !ok || !IsValidAddress(addr) {
			abortInvalidAddress(c)
			return
		}
		c.Set("address", addr)
		c.Next()
	}
}

func abortInvalidAddress(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_address",
		"message": "address must be a valid Ethereum address (0x + 40 hex chars)",
	})
}

// Package orders provides client order ID generation for Binance futures trading.
package orders

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tv-trading-bot/internal/cache"
)

const (
	// MaxClientOrderIDLength is the maximum length allowed by Binance
	MaxClientOrderIDLength = 36

	// IDPrefix identifies orders placed by this service
	IDPrefix = "TVBOT"

	// FallbackMarker identifies fallback IDs generated when Redis is unavailable
	FallbackMarker = "FALLBACK"
)

// Errors for client order ID operations
var (
	ErrClientOrderIDTooLong = errors.New("client order ID exceeds maximum length of 36 characters")
	ErrInvalidClientOrderID = errors.New("invalid client order ID format")
	ErrInvalidOrderKind     = errors.New("invalid order kind")
)

// ClientOrderIdGenerator generates structured client order IDs for Binance futures.
// Format: TVBOT-[DDMMM]-[NNNNN]-[KIND] (e.g. "TVBOT-30AUG-00001-E")
// Fallback format: TVBOT-FALLBACK-[8CHAR]-[KIND] (e.g. "TVBOT-FALLBACK-a3f7c2e9-S")
type ClientOrderIdGenerator struct {
	cacheService *cache.CacheService
	timezone     *time.Location
}

// NewClientOrderIdGenerator creates a new ClientOrderIdGenerator.
// If timezone is nil, defaults to UTC.
func NewClientOrderIdGenerator(cacheService *cache.CacheService, timezone *time.Location) *ClientOrderIdGenerator {
	if timezone == nil {
		timezone = time.UTC
	}
	return &ClientOrderIdGenerator{
		cacheService: cacheService,
		timezone:     timezone,
	}
}

// Generate creates a new client order ID with an atomic daily sequence number.
// If Redis is unavailable, automatically uses fallback ID generation.
func (g *ClientOrderIdGenerator) Generate(ctx context.Context, kind OrderKind) (string, error) {
	if err := validateOrderKind(kind); err != nil {
		return "", err
	}

	now := time.Now().In(g.timezone)
	dateStr := strings.ToUpper(now.Format("02Jan")) // "30AUG"

	if g.cacheService != nil {
		dateKey := now.Format("20060102")
		seq, err := g.cacheService.IncrementDailySequence(ctx, dateKey)
		if err == nil {
			id := fmt.Sprintf("%s-%s-%05d-%s", IDPrefix, dateStr, seq, kind)
			if len(id) > MaxClientOrderIDLength {
				return "", fmt.Errorf("%w: generated ID '%s' is %d characters", ErrClientOrderIDTooLong, id, len(id))
			}
			return id, nil
		}
		log.Printf("[ClientOrderIdGenerator] Redis unavailable for sequence generation, using fallback: %v", err)
	}

	return g.GenerateFallback(kind), nil
}

// GenerateFallback creates a fallback client order ID when Redis is unavailable.
// Format: TVBOT-FALLBACK-[8CHAR]-[KIND]
func (g *ClientOrderIdGenerator) GenerateFallback(kind OrderKind) string {
	return fmt.Sprintf("%s-%s-%s-%s", IDPrefix, FallbackMarker, generateShortUniqueID(), kind)
}

// SignalEntryID builds the deterministic entry ID for a bot and signal log.
// The same signal delivered twice produces the same ID, so the exchange
// rejects the duplicate order instead of doubling the position.
func SignalEntryID(botID, signalLogID int64) string {
	return fmt.Sprintf("%s-B%d-L%d-%s", IDPrefix, botID, signalLogID, KindEntry)
}

// PortfolioCloseID builds the ID for one symbol close within a portfolio
// trailing liquidation. ts is the liquidation start time, n the symbol index.
func PortfolioCloseID(ts time.Time, n int) string {
	return fmt.Sprintf("%s-PT-%d-%d", IDPrefix, ts.Unix(), n)
}

// ValidateClientOrderID validates that a client order ID meets Binance
// requirements and carries this service's prefix.
func ValidateClientOrderID(id string) error {
	if id == "" {
		return ErrInvalidClientOrderID
	}
	if len(id) > MaxClientOrderIDLength {
		return fmt.Errorf("%w: ID '%s' is %d characters (max %d)", ErrClientOrderIDTooLong, id, len(id), MaxClientOrderIDLength)
	}

	parts := strings.Split(id, "-")
	if len(parts) < 3 {
		return fmt.Errorf("%w: expected at least 3 parts separated by '-'", ErrInvalidClientOrderID)
	}
	if parts[0] != IDPrefix {
		return fmt.Errorf("%w: unknown prefix '%s'", ErrInvalidClientOrderID, parts[0])
	}
	return nil
}

// IsOwnOrder reports whether a client order ID was generated by this service
func IsOwnOrder(id string) bool {
	return strings.HasPrefix(id, IDPrefix+"-")
}

// IsFallbackID checks if the client order ID is a fallback ID
func IsFallbackID(id string) bool {
	return strings.Contains(id, "-"+FallbackMarker+"-")
}

// ExtractKind returns the order kind suffix of a generated ID.
// For "TVBOT-30AUG-00001-E" returns KindEntry.
func ExtractKind(id string) (OrderKind, error) {
	parts := strings.Split(id, "-")
	if len(parts) < 4 {
		return "", fmt.Errorf("%w: cannot extract kind from '%s'", ErrInvalidClientOrderID, id)
	}
	kind := OrderKind(parts[len(parts)-1])
	if err := validateOrderKind(kind); err != nil {
		return "", err
	}
	return kind, nil
}

// validateOrderKind checks if the order kind is valid
func validateOrderKind(kind OrderKind) error {
	switch kind {
	case KindEntry, KindExit, KindStop, KindManual, KindPortfolio:
		return nil
	default:
		return fmt.Errorf("%w: '%s'", ErrInvalidOrderKind, kind)
	}
}

// generateShortUniqueID generates an 8-character hex unique identifier
// Uses crypto/rand for better uniqueness guarantees
func generateShortUniqueID() string {
	b := make([]byte, 4) // 4 bytes = 8 hex characters
	_, err := rand.Read(b)
	if err != nil {
		// Fallback to timestamp-based if crypto/rand fails
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xFFFFFFFF)
	}
	return hex.EncodeToString(b)
}

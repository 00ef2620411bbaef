// Package orders generates correlation link ids for Bybit orders. The entry
// order carries the base id; child orders (take-profits, stop fallback) are
// suffixed so one glance at the venue's order list shows the whole bracket.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tv-bybit-middleware/internal/cache"
)

const (
	// MaxLinkIDLength is the maximum orderLinkId length Bybit accepts
	MaxLinkIDLength = 36

	linkPrefix = "TV"
)

// Child order suffixes
const (
	SuffixTP1          = "TP1"
	SuffixTP2          = "TP2"
	SuffixStopFallback = "SLB"
)

// ErrLinkIDTooLong is returned when a generated id exceeds the venue limit
var ErrLinkIDTooLong = errors.New("order link id exceeds maximum length of 36 characters")

// LinkIDGenerator produces base link ids of the form TV-BTCUSDT-26AUG-00001
// using an atomic Redis daily sequence, falling back to a random short id
// (TV-BTCUSDT-a3f7c2e9) when Redis is unavailable.
type LinkIDGenerator struct {
	cacheService *cache.CacheService
	logger       zerolog.Logger
	now          func() time.Time
}

// NewLinkIDGenerator creates a LinkIDGenerator. cacheService may be nil,
// in which case every id uses the fallback form.
func NewLinkIDGenerator(cacheService *cache.CacheService, now func() time.Time, logger zerolog.Logger) *LinkIDGenerator {
	if now == nil {
		now = time.Now
	}
	return &LinkIDGenerator{
		cacheService: cacheService,
		logger:       logger.With().Str("component", "LinkIDGenerator").Logger(),
		now:          now,
	}
}

// Generate returns a new base link id for an entry order
func (g *LinkIDGenerator) Generate(ctx context.Context, symbol string) (string, error) {
	now := g.now().UTC()
	dateStr := strings.ToUpper(now.Format("02Jan"))

	if g.cacheService != nil {
		seq, err := g.cacheService.IncrementDailySequence(ctx, symbol, now.Format("20060102"))
		if err == nil {
			base := fmt.Sprintf("%s-%s-%s-%05d", linkPrefix, symbol, dateStr, seq)
			if len(base) > MaxLinkIDLength {
				return "", fmt.Errorf("%w: %q is %d characters", ErrLinkIDTooLong, base, len(base))
			}
			return base, nil
		}
		g.logger.Warn().Err(err).Msg("Redis unavailable for sequence generation, using fallback id")
	}

	return g.generateFallback(symbol), nil
}

// generateFallback builds a base id from a random short identifier
func (g *LinkIDGenerator) generateFallback(symbol string) string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", linkPrefix, symbol, short)
}

// Related derives a child order id from a base id, e.g. base + "-TP1"
func Related(baseID, suffix string) (string, error) {
	if baseID == "" {
		return "", errors.New("baseID cannot be empty")
	}
	full := baseID + "-" + suffix
	if len(full) > MaxLinkIDLength {
		return "", fmt.Errorf("%w: %q is %d characters", ErrLinkIDTooLong, full, len(full))
	}
	return full, nil
}

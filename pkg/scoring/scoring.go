package scoring

import (
	"context"
	"strings"

	"github.com/moment-museum/giftscan/pkg/catalog"
	"go.uber.org/zap"
)

// DefaultTierPoints maps catalog rarity tiers to base point values.
// Unknown tiers score zero rather than erroring.
var DefaultTierPoints = map[string]uint64{
	"COMMON":    1,
	"FANDOM":    5,
	"RARE":      50,
	"LEGENDARY": 250,
	"ULTIMATE":  1000,
}

// DefaultEditionOverrides assigns fixed point values to premium
// editions regardless of tier. Overrides win over the tier table.
var DefaultEditionOverrides = map[uint64]uint64{
	153: 1000,
	2:   250,
	63:  50,
	142: 50,
	97:  50,
	149: 50,
	54:  50,
	99:  50,
	115: 50,
	36:  50,
	166: 50,
}

// Resolver maps a moment to its point value via catalog metadata.
type Resolver struct {
	catalog    catalog.Resolver
	logger     *zap.Logger
	overrides  map[uint64]uint64
	tierPoints map[string]uint64
	player     string
}

// Opts configures a scoring Resolver.
type Opts struct {
	// PlayerIdentity scopes the event to one player's moments; gifts
	// of other players' moments are valid but score zero. Empty
	// disables the scope check.
	PlayerIdentity string
	// EditionOverrides and TierPoints default to the package tables.
	EditionOverrides map[uint64]uint64
	TierPoints       map[string]uint64
}

// NewResolver creates a Resolver over the given catalog.
func NewResolver(logger *zap.Logger, cat catalog.Resolver, o Opts) *Resolver {
	if o.EditionOverrides == nil {
		o.EditionOverrides = DefaultEditionOverrides
	}
	if o.TierPoints == nil {
		o.TierPoints = DefaultTierPoints
	}
	return &Resolver{
		catalog:    cat,
		logger:     logger.With(zap.String("component", "scoring")),
		overrides:  o.EditionOverrides,
		tierPoints: o.TierPoints,
		player:     o.PlayerIdentity,
	}
}

// ResolvePoints returns the point value for a moment. It never fails:
// a catalog lookup error yields zero so the gift is still recorded and
// stays eligible for the zero-point re-scoring pass.
func (r *Resolver) ResolvePoints(ctx context.Context, momentID uint64) uint64 {
	md, err := r.catalog.Metadata(ctx, momentID)
	if err != nil {
		r.logger.Warn("Catalog lookup failed, scoring as zero",
			zap.Uint64("momentID", momentID), zap.Error(err))
		return 0
	}

	if r.player != "" && md.PlayerIdentity != r.player {
		return 0
	}

	if points, ok := r.overrides[md.EditionID]; ok {
		return points
	}

	// The catalog emits tiers as MOMENT_TIER_RARE etc.
	tier := strings.ToUpper(strings.TrimSpace(md.Tier))
	tier = strings.TrimPrefix(tier, "MOMENT_TIER_")
	return r.tierPoints[tier]
}

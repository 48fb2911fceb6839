// Package billing maps payment-provider artifacts (price IDs) to plan
// tiers and defines the per-tier daily feature ceilings.
package billing

import (
	"log/slog"

	"vitalog/internal/types"
)

// dailyLimits is the per-tier feature ceiling table. types.UnlimitedDaily
// (-1) means no ceiling; 0 means the feature is gated off for the tier.
var dailyLimits = map[types.PlanTier]map[types.FeatureType]int{
	types.PlanFree: {
		types.FeatureChat:     3,
		types.FeatureRecord:   1,
		types.FeatureWebappAI: 0,
	},
	types.PlanMonthly: {
		types.FeatureChat:     types.UnlimitedDaily,
		types.FeatureRecord:   types.UnlimitedDaily,
		types.FeatureWebappAI: types.UnlimitedDaily,
	},
	types.PlanBiannual: {
		types.FeatureChat:     types.UnlimitedDaily,
		types.FeatureRecord:   types.UnlimitedDaily,
		types.FeatureWebappAI: types.UnlimitedDaily,
	},
	types.PlanPromoFixedTerm: {
		types.FeatureChat:     types.UnlimitedDaily,
		types.FeatureRecord:   types.UnlimitedDaily,
		types.FeatureWebappAI: types.UnlimitedDaily,
	},
	types.PlanLifetime: {
		types.FeatureChat:     types.UnlimitedDaily,
		types.FeatureRecord:   types.UnlimitedDaily,
		types.FeatureWebappAI: types.UnlimitedDaily,
	},
}

// DailyLimit returns the daily ceiling for a feature under a tier.
// Unknown tiers fall back to free-tier limits; unknown features are
// gated off (0).
func DailyLimit(tier types.PlanTier, feature types.FeatureType) int {
	limits, ok := dailyLimits[tier]
	if !ok {
		limits = dailyLimits[types.PlanFree]
	}
	limit, ok := limits[feature]
	if !ok {
		return 0
	}
	return limit
}

// Limits returns a copy of the full ceiling table for a tier.
func Limits(tier types.PlanTier) map[types.FeatureType]int {
	limits, ok := dailyLimits[tier]
	if !ok {
		limits = dailyLimits[types.PlanFree]
	}
	out := make(map[types.FeatureType]int, len(limits))
	for f, l := range limits {
		out[f] = l
	}
	return out
}

// PlanClassifier resolves provider price IDs to plan tiers.
type PlanClassifier struct {
	byPrice map[string]types.PlanTier
	logger  *slog.Logger
}

// NewPlanClassifier builds a classifier from the configured price IDs.
func NewPlanClassifier(monthlyPriceID, biannualPriceID string, logger *slog.Logger) *PlanClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	byPrice := make(map[string]types.PlanTier, 2)
	if monthlyPriceID != "" {
		byPrice[monthlyPriceID] = types.PlanMonthly
	}
	if biannualPriceID != "" {
		byPrice[biannualPriceID] = types.PlanBiannual
	}
	return &PlanClassifier{byPrice: byPrice, logger: logger}
}

// ClassifyPrice maps a price ID to its tier. Unrecognized price IDs
// classify as monthly, the least-privileged paid tier: the user has
// verifiably paid for something, so denying access would be worse than
// under-granting. The mismatch is logged for catalogue reconciliation.
func (c *PlanClassifier) ClassifyPrice(priceID string) types.PlanTier {
	if tier, ok := c.byPrice[priceID]; ok {
		return tier
	}
	c.logger.Warn("unrecognized price id, defaulting to monthly tier",
		slog.String("price_id", priceID))
	return types.PlanMonthly
}

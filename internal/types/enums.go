package types

// PlanTier identifies the commercial plan a user is entitled under.
type PlanTier string

const (
	PlanFree           PlanTier = "free"
	PlanMonthly        PlanTier = "monthly"
	PlanBiannual       PlanTier = "biannual"
	PlanPromoFixedTerm PlanTier = "promo_fixed_term"
	PlanLifetime       PlanTier = "lifetime"
)

// Valid reports whether the tier is one of the known plan tiers.
func (p PlanTier) Valid() bool {
	switch p {
	case PlanFree, PlanMonthly, PlanBiannual, PlanPromoFixedTerm, PlanLifetime:
		return true
	}
	return false
}

// Paid reports whether the tier grants paid-level access.
func (p PlanTier) Paid() bool {
	return p.Valid() && p != PlanFree
}

// EntitlementStatus is the lifecycle state of a user's entitlement.
type EntitlementStatus string

const (
	StatusInactive          EntitlementStatus = "inactive"
	StatusTrialing          EntitlementStatus = "trialing"
	StatusActive            EntitlementStatus = "active"
	StatusCancelAtPeriodEnd EntitlementStatus = "cancel_at_period_end"
	StatusLifetime          EntitlementStatus = "lifetime"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s EntitlementStatus) Valid() bool {
	switch s {
	case StatusInactive, StatusTrialing, StatusActive, StatusCancelAtPeriodEnd, StatusLifetime:
		return true
	}
	return false
}

// Entitled reports whether the status grants access to paid features.
// CancelAtPeriodEnd keeps access until the paid-through date; expiry is
// enforced lazily at read time, not here.
func (s EntitlementStatus) Entitled() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusCancelAtPeriodEnd, StatusLifetime:
		return true
	}
	return false
}

// FeatureType identifies a metered product feature.
type FeatureType string

const (
	FeatureChat     FeatureType = "chat"
	FeatureRecord   FeatureType = "record"
	FeatureWebappAI FeatureType = "webapp_ai"
)

// Valid reports whether the feature is a known metered feature.
func (f FeatureType) Valid() bool {
	switch f {
	case FeatureChat, FeatureRecord, FeatureWebappAI:
		return true
	}
	return false
}

// UnlimitedDaily is the sentinel daily limit meaning "no ceiling".
// A limit of zero means the feature is gated off entirely.
const UnlimitedDaily = -1

// IngestOutcome classifies what happened to an inbound lifecycle event.
type IngestOutcome string

const (
	IngestApplied          IngestOutcome = "applied"
	IngestAlreadyProcessed IngestOutcome = "already_processed"
	IngestIgnored          IngestOutcome = "ignored"
)

// RedeemStatus classifies the result of a coupon redemption attempt.
type RedeemStatus string

const (
	RedeemApplied     RedeemStatus = "applied"
	RedeemAlreadyUsed RedeemStatus = "already_used"
	RedeemBadFormat   RedeemStatus = "bad_format"
)

// TrialStatus classifies the result of a trial start attempt.
type TrialStatus string

const (
	TrialStarted     TrialStatus = "started"
	TrialAlreadyUsed TrialStatus = "already_used"
)

// EventType is the normalized form of a payment-provider lifecycle event.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout-completed"
	EventSubscriptionCreated EventType = "subscription-created"
	EventSubscriptionUpdated EventType = "subscription-updated"
	EventSubscriptionDeleted EventType = "subscription-deleted"
	EventInvoicePaid         EventType = "invoice-paid"
	EventInvoiceFailed       EventType = "invoice-failed"
)

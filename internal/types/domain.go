package types

import "time"

// EntitlementRecord is the persisted entitlement state for a single user.
// One row per user; created lazily on first interaction.
type EntitlementRecord struct {
	UserID             string            `json:"userId"`
	PlanTier           PlanTier          `json:"planTier"`
	Status             EntitlementStatus `json:"status"`
	CurrentPeriodStart *time.Time        `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   *time.Time        `json:"currentPeriodEnd,omitempty"`
	TrialEndDate       *time.Time        `json:"trialEndDate,omitempty"`
	HasUsedTrial       bool              `json:"hasUsedTrial"`
	SubscriptionID     string            `json:"subscriptionId,omitempty"`
	CustomerID         string            `json:"customerId,omitempty"`
	CouponUsed         string            `json:"couponUsed,omitempty"`
	PaymentFailedAt    *time.Time        `json:"paymentFailedAt,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// Entitled reports whether the record currently grants paid access.
// Callers must resolve lazy expiry first; this only inspects the stored state.
func (e *EntitlementRecord) Entitled() bool {
	return e.Status.Entitled()
}

// ProcessedEventRecord marks a provider event as already applied.
// The primary key on EventID is the idempotency barrier.
type ProcessedEventRecord struct {
	EventID     string    `json:"eventId"`
	EventType   string    `json:"eventType"`
	ProcessedAt time.Time `json:"processedAt"`
}

// CouponRecord is a single-use campaign coupon. Rows are created lazily
// on first redemption attempt; Used flips true exactly once.
type CouponRecord struct {
	Code      string     `json:"code"`
	TierGrant PlanTier   `json:"tierGrant"`
	Months    int        `json:"months"` // UnlimitedDaily (-1) for lifetime grants
	Used      bool       `json:"used"`
	UsedBy    string     `json:"usedBy,omitempty"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// CouponGrant is the entitlement change a recognized coupon code confers.
type CouponGrant struct {
	CouponType string
	Tier       PlanTier
	Months     int // UnlimitedDaily (-1) means no expiry
}

// SubscriptionEvent is a provider lifecycle event normalized for ingestion.
type SubscriptionEvent struct {
	EventID           string
	Type              EventType
	UserID            string
	SubscriptionID    string
	CustomerID        string
	PriceID           string
	ProviderStatus    string
	CancelAtPeriodEnd bool
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	TrialEnd          *time.Time
}

// UsageDecision is the outcome of a quota check-and-increment.
type UsageDecision struct {
	Allowed   bool        `json:"allowed"`
	Feature   FeatureType `json:"feature"`
	Used      int         `json:"used"`
	Limit     int         `json:"limit"` // UnlimitedDaily (-1) when no ceiling applies
	Remaining int         `json:"remaining"`
}

// FeatureUsage is one feature's consumption within a usage snapshot.
type FeatureUsage struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// UsageSnapshot reports a user's consumption against limits for one local day.
type UsageSnapshot struct {
	UserID   string                       `json:"userId"`
	Date     string                       `json:"date"` // YYYY-MM-DD in the service's local zone
	PlanTier PlanTier                     `json:"planTier"`
	Features map[FeatureType]FeatureUsage `json:"features"`
}

// EntitlementChanged is published to the outbound queue whenever a user's
// entitlement state mutates, so downstream consumers (bot UI) can react.
type EntitlementChanged struct {
	MessageID  string            `json:"messageId"`
	UserID     string            `json:"userId"`
	PlanTier   PlanTier          `json:"planTier"`
	Status     EntitlementStatus `json:"status"`
	Reason     string            `json:"reason"`
	OccurredAt time.Time         `json:"occurredAt"`
}

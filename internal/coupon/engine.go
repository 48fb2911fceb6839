// Package coupon validates campaign coupon codes and redeems them,
// exactly once per code, into entitlement grants.
package coupon

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"vitalog/internal/types"
)

// codePattern matches `<TYPE>-<SERIAL>` where TYPE carries the campaign
// amount and grant duration, e.g. CF1500-3M-0042.
var codePattern = regexp.MustCompile(`^(CF\d+-(?:1M|3M|6M|LT))-(\d+)$`)

// grantsByType is the campaign catalogue. 1M/3M/6M grant a fixed-term
// promo plan; LT grants lifetime (no expiry).
var grantsByType = map[string]types.CouponGrant{
	"CF600-1M":   {CouponType: "CF600-1M", Tier: types.PlanPromoFixedTerm, Months: 1},
	"CF1500-3M":  {CouponType: "CF1500-3M", Tier: types.PlanPromoFixedTerm, Months: 3},
	"CF3000-6M":  {CouponType: "CF3000-6M", Tier: types.PlanPromoFixedTerm, Months: 6},
	"CF15000-LT": {CouponType: "CF15000-LT", Tier: types.PlanLifetime, Months: types.UnlimitedDaily},
}

// ParseCode normalizes and validates a raw coupon code, returning the
// canonical code and the grant it confers.
func ParseCode(raw string) (string, types.CouponGrant, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	m := codePattern.FindStringSubmatch(code)
	if m == nil {
		return "", types.CouponGrant{}, types.NewValidationError(
			types.ErrCodeInvalidCouponCode, "coupon code format not recognized", nil)
	}
	grant, ok := grantsByType[m[1]]
	if !ok {
		return "", types.CouponGrant{}, types.NewValidationError(
			types.ErrCodeInvalidCouponCode, "coupon type not part of any campaign",
			map[string]any{"coupon_type": m[1]})
	}
	return code, grant, nil
}

// Store is the persistence surface for redemption. *db.Store implements
// it; the implementation must claim the code and apply the grant in one
// atomic unit.
type Store interface {
	RedeemCoupon(ctx context.Context, code string, userID string, grant types.CouponGrant, until *time.Time, now time.Time) (bool, error)
}

// ChangePublisher mirrors entitlement.ChangePublisher for the coupon path.
type ChangePublisher interface {
	PublishChange(ctx context.Context, msg types.EntitlementChanged) error
}

// Engine redeems coupon codes.
type Engine struct {
	store     Store
	publisher ChangePublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(store Store, publisher ChangePublisher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Redeem validates the code and attempts the single-use claim. Exactly
// one caller ever sees RedeemApplied for a given code; everyone else
// gets RedeemAlreadyUsed, including the same user retrying.
func (e *Engine) Redeem(ctx context.Context, userID, rawCode string) (types.RedeemStatus, *types.CouponGrant, error) {
	code, grant, err := ParseCode(rawCode)
	if err != nil {
		return types.RedeemBadFormat, nil, err
	}

	now := e.now()
	var until *time.Time
	if grant.Months != types.UnlimitedDaily {
		u := now.AddDate(0, grant.Months, 0)
		until = &u
	}

	redeemed, err := e.store.RedeemCoupon(ctx, code, userID, grant, until, now)
	if err != nil {
		return "", nil, err
	}
	if !redeemed {
		e.logger.Info("coupon already used",
			slog.String("user_id", userID),
			slog.String("coupon_type", grant.CouponType))
		return types.RedeemAlreadyUsed, nil, nil
	}

	e.logger.Info("coupon redeemed",
		slog.String("user_id", userID),
		slog.String("coupon_type", grant.CouponType),
		slog.String("plan_tier", string(grant.Tier)))

	if e.publisher != nil {
		status := types.StatusActive
		if grant.Tier == types.PlanLifetime {
			status = types.StatusLifetime
		}
		msg := types.EntitlementChanged{
			MessageID:  code,
			UserID:     userID,
			PlanTier:   grant.Tier,
			Status:     status,
			Reason:     "coupon_redeemed",
			OccurredAt: now,
		}
		if err := e.publisher.PublishChange(ctx, msg); err != nil {
			e.logger.Error("failed to publish entitlement change",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		}
	}

	return types.RedeemApplied, &grant, nil
}

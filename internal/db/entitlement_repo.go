package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"vitalog/internal/types"
)

// entitlementColumns is the shared SELECT list. has_used_trial is derived
// from the trial ledger, not stored on the entitlement row, so it
// survives account resets.
const entitlementColumns = `
	e.user_id, e.plan_tier, e.status,
	e.current_period_start, e.current_period_end, e.trial_end_date,
	e.subscription_id, e.customer_id, e.coupon_used, e.payment_failed_at,
	e.created_at, e.updated_at,
	(tl.user_id IS NOT NULL) AS has_used_trial`

// SubscriptionUpdate carries the fields a provider lifecycle event may
// write onto an entitlement row. Nil pointers leave period bounds NULL.
type SubscriptionUpdate struct {
	PlanTier       types.PlanTier
	Status         types.EntitlementStatus
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	TrialEnd       *time.Time
	SubscriptionID string
	CustomerID     string
}

// AdminOverride carries the fields an operator may force onto an
// entitlement row.
type AdminOverride struct {
	PlanTier  types.PlanTier
	Status    types.EntitlementStatus
	PeriodEnd *time.Time
	TrialEnd  *time.Time
}

// EntitlementRepo manages the entitlements table.
type EntitlementRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewEntitlementRepo creates an EntitlementRepo backed by the given
// connection (pool or transaction).
func NewEntitlementRepo(db DBTX, logger *slog.Logger) *EntitlementRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementRepo{db: db, logger: logger}
}

// Ensure creates the default free/inactive row for a user if none
// exists. Safe to call on every read path.
func (r *EntitlementRepo) Ensure(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO entitlements (user_id, plan_tier, status, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, types.PlanFree, types.StatusInactive,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to ensure entitlement row", err)
	}
	return nil
}

// Get returns the entitlement for a user, or (nil, nil) when no row
// exists yet.
func (r *EntitlementRepo) Get(ctx context.Context, userID string) (*types.EntitlementRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+entitlementColumns+`
		 FROM entitlements e
		 LEFT JOIN trial_ledger tl ON tl.user_id = e.user_id
		 WHERE e.user_id = $1`,
		userID,
	)

	var rec types.EntitlementRecord
	var subID, custID, coupon *string
	err := row.Scan(
		&rec.UserID, &rec.PlanTier, &rec.Status,
		&rec.CurrentPeriodStart, &rec.CurrentPeriodEnd, &rec.TrialEndDate,
		&subID, &custID, &coupon, &rec.PaymentFailedAt,
		&rec.CreatedAt, &rec.UpdatedAt,
		&rec.HasUsedTrial,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load entitlement", err)
	}
	if subID != nil {
		rec.SubscriptionID = *subID
	}
	if custID != nil {
		rec.CustomerID = *custID
	}
	if coupon != nil {
		rec.CouponUsed = *coupon
	}
	return &rec, nil
}

// ApplySubscription writes the state derived from a provider lifecycle
// event. A transition into an entitled status clears any recorded
// payment failure.
func (r *EntitlementRepo) ApplySubscription(ctx context.Context, userID string, u SubscriptionUpdate) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE entitlements
		 SET plan_tier = $1,
		     status = $2,
		     current_period_start = $3,
		     current_period_end = $4,
		     trial_end_date = $5,
		     subscription_id = NULLIF($6, ''),
		     customer_id = NULLIF($7, ''),
		     payment_failed_at = CASE WHEN $2 IN ('active', 'trialing', 'lifetime') THEN NULL ELSE payment_failed_at END,
		     updated_at = NOW()
		 WHERE user_id = $8`,
		u.PlanTier, u.Status, u.PeriodStart, u.PeriodEnd, u.TrialEnd,
		u.SubscriptionID, u.CustomerID, userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply subscription state", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeEntitlementNotFound, "entitlement row missing", nil)
	}
	return nil
}

// ExpireIfPast downgrades the row to free/inactive when its paid-through
// moment has passed: a trial past trial_end_date, or an active or
// cancel-at-period-end subscription past current_period_end. Lifetime
// rows never match. Returns whether a downgrade happened. This is the
// only expiry mechanism; there is no background scheduler.
func (r *EntitlementRepo) ExpireIfPast(ctx context.Context, userID string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE entitlements
		 SET plan_tier = 'free',
		     status = 'inactive',
		     current_period_start = NULL,
		     current_period_end = NULL,
		     trial_end_date = NULL,
		     subscription_id = NULL,
		     updated_at = NOW()
		 WHERE user_id = $1
		   AND (
		     (status = 'trialing' AND trial_end_date IS NOT NULL AND trial_end_date <= $2)
		     OR (status IN ('active', 'cancel_at_period_end')
		         AND current_period_end IS NOT NULL AND current_period_end <= $2)
		   )`,
		userID, now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to apply lazy expiry", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordPaymentFailure stamps payment_failed_at. The row keeps its
// entitled status until current_period_end; this only marks dunning.
func (r *EntitlementRepo) RecordPaymentFailure(ctx context.Context, userID string, failedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE entitlements
		 SET payment_failed_at = $1,
		     updated_at = NOW()
		 WHERE user_id = $2`,
		failedAt, userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record payment failure", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeEntitlementNotFound, "entitlement row missing", nil)
	}
	return nil
}

// Override force-writes tier and status from the admin surface.
func (r *EntitlementRepo) Override(ctx context.Context, userID string, o AdminOverride) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE entitlements
		 SET plan_tier = $1,
		     status = $2,
		     current_period_end = $3,
		     trial_end_date = $4,
		     updated_at = NOW()
		 WHERE user_id = $5`,
		o.PlanTier, o.Status, o.PeriodEnd, o.TrialEnd, userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to override entitlement", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeEntitlementNotFound, "entitlement row missing", nil)
	}
	return nil
}

// SetTrial moves the row into the trialing state. Must run in the same
// transaction as the trial-ledger claim.
func (r *EntitlementRepo) SetTrial(ctx context.Context, userID string, tier types.PlanTier, trialEnd time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE entitlements
		 SET plan_tier = $1,
		     status = 'trialing',
		     trial_end_date = $2,
		     updated_at = NOW()
		 WHERE user_id = $3`,
		tier, trialEnd, userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set trial state", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeEntitlementNotFound, "entitlement row missing", nil)
	}
	return nil
}

// ApplyCouponGrant writes the entitlement a redeemed coupon confers.
// Must run in the same transaction as the coupon claim. A lifetime
// grant carries no period bounds; both stay NULL.
func (r *EntitlementRepo) ApplyCouponGrant(ctx context.Context, userID string, grant types.CouponGrant, until *time.Time, code string) error {
	status := types.StatusActive
	if grant.Tier == types.PlanLifetime {
		status = types.StatusLifetime
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE entitlements
		 SET plan_tier = $1,
		     status = $2,
		     current_period_start = CASE WHEN $2 = 'lifetime' THEN NULL ELSE NOW() END,
		     current_period_end = $3,
		     coupon_used = $4,
		     updated_at = NOW()
		 WHERE user_id = $5`,
		grant.Tier, status, until, code, userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply coupon grant", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeEntitlementNotFound, "entitlement row missing", nil)
	}
	return nil
}

// Delete removes the entitlement row. Trial-ledger and coupon history
// are intentionally untouched; see Store.ResetAccount.
func (r *EntitlementRepo) Delete(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM entitlements WHERE user_id = $1`, userID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete entitlement", err)
	}
	return nil
}

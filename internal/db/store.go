package db

import (
	"context"
	"log/slog"
	"time"

	"vitalog/internal/types"
)

// Store is the facade the service layers use. Single-row operations
// delegate straight to the repositories; multi-table operations (trial
// start, coupon redemption, account reset) run inside one transaction.
type Store struct {
	pool   PoolDB
	logger *slog.Logger

	entitlements *EntitlementRepo
	events       *ProcessedEventRepo
	trials       *TrialLedgerRepo
	coupons      *CouponRepo
}

// NewStore creates a Store over the connection pool.
func NewStore(pool PoolDB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:         pool,
		logger:       logger,
		entitlements: NewEntitlementRepo(pool, logger),
		events:       NewProcessedEventRepo(pool, logger),
		trials:       NewTrialLedgerRepo(pool, logger),
		coupons:      NewCouponRepo(pool, logger),
	}
}

// EnsureEntitlement creates the default free/inactive row if missing.
func (s *Store) EnsureEntitlement(ctx context.Context, userID string) error {
	return s.entitlements.Ensure(ctx, userID)
}

// GetEntitlement returns the entitlement, or (nil, nil) when no row exists.
func (s *Store) GetEntitlement(ctx context.Context, userID string) (*types.EntitlementRecord, error) {
	return s.entitlements.Get(ctx, userID)
}

// ApplySubscription writes provider-derived state onto the row.
func (s *Store) ApplySubscription(ctx context.Context, userID string, u SubscriptionUpdate) error {
	return s.entitlements.ApplySubscription(ctx, userID, u)
}

// ExpireIfPast applies lazy expiry; see EntitlementRepo.ExpireIfPast.
func (s *Store) ExpireIfPast(ctx context.Context, userID string, now time.Time) (bool, error) {
	return s.entitlements.ExpireIfPast(ctx, userID, now)
}

// RecordPaymentFailure stamps dunning state on the row.
func (s *Store) RecordPaymentFailure(ctx context.Context, userID string, failedAt time.Time) error {
	return s.entitlements.RecordPaymentFailure(ctx, userID, failedAt)
}

// OverrideEntitlement force-writes tier and status from the admin surface.
func (s *Store) OverrideEntitlement(ctx context.Context, userID string, o AdminOverride) error {
	return s.entitlements.Override(ctx, userID, o)
}

// MarkEventProcessed claims a webhook event ID for processing.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string, now time.Time) (bool, error) {
	return s.events.MarkProcessed(ctx, eventID, eventType, now)
}

// PurgeProcessedEvents deletes idempotency rows older than the cutoff.
func (s *Store) PurgeProcessedEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.events.PurgeOlderThan(ctx, cutoff)
}

// StartTrial atomically claims the user's single trial and moves the
// entitlement into the trialing state. Returns false when the trial was
// already used (by the ledger, regardless of current entitlement state).
func (s *Store) StartTrial(ctx context.Context, userID string, tier types.PlanTier, trialEnd time.Time, now time.Time) (bool, error) {
	var started bool
	err := WithTx(ctx, s.pool, func(tx DBTX) error {
		trials := NewTrialLedgerRepo(tx, s.logger)
		claimed, err := trials.Claim(ctx, userID, now)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}

		ents := NewEntitlementRepo(tx, s.logger)
		if err := ents.Ensure(ctx, userID); err != nil {
			return err
		}
		if err := ents.SetTrial(ctx, userID, tier, trialEnd); err != nil {
			return err
		}
		started = true
		return nil
	})
	return started, err
}

// RedeemCoupon atomically claims the coupon and applies its grant.
// Returns false when the coupon was already used. The claim and the
// grant commit or roll back together, so a coupon can never be consumed
// without its entitlement taking effect.
func (s *Store) RedeemCoupon(ctx context.Context, code string, userID string, grant types.CouponGrant, until *time.Time, now time.Time) (bool, error) {
	var redeemed bool
	err := WithTx(ctx, s.pool, func(tx DBTX) error {
		coupons := NewCouponRepo(tx, s.logger)
		claimed, err := coupons.EnsureAndClaim(ctx, code, grant, userID, now)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}

		ents := NewEntitlementRepo(tx, s.logger)
		if err := ents.Ensure(ctx, userID); err != nil {
			return err
		}
		if err := ents.ApplyCouponGrant(ctx, userID, grant, until, code); err != nil {
			return err
		}
		redeemed = true
		return nil
	})
	return redeemed, err
}

// ResetAccount deletes the entitlement row. Trial history survives a
// routine reset; erase additionally removes the trial ledger entry,
// letting the user trial again.
func (s *Store) ResetAccount(ctx context.Context, userID string, erase bool) error {
	return WithTx(ctx, s.pool, func(tx DBTX) error {
		ents := NewEntitlementRepo(tx, s.logger)
		if err := ents.Delete(ctx, userID); err != nil {
			return err
		}
		if erase {
			trials := NewTrialLedgerRepo(tx, s.logger)
			if err := trials.Erase(ctx, userID); err != nil {
				return err
			}
		}
		return nil
	})
}

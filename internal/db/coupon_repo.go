package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"vitalog/internal/types"
)

// CouponRepo manages the coupons table. Coupon rows are created lazily
// on first redemption attempt; the guarded UPDATE on used = FALSE is
// what makes redemption exactly-once under concurrency.
type CouponRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewCouponRepo creates a CouponRepo.
func NewCouponRepo(db DBTX, logger *slog.Logger) *CouponRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &CouponRepo{db: db, logger: logger}
}

// EnsureAndClaim inserts the coupon row if absent, then attempts to
// flip it from unused to used. Returns true when this call won the
// claim. Must run inside the same transaction as the entitlement grant
// so a failed grant releases the coupon.
func (r *CouponRepo) EnsureAndClaim(ctx context.Context, code string, grant types.CouponGrant, userID string, now time.Time) (bool, error) {
	_, err := r.db.Exec(ctx,
		`INSERT INTO coupons (code, tier_grant, months, used, created_at)
		 VALUES ($1, $2, $3, FALSE, $4)
		 ON CONFLICT (code) DO NOTHING`,
		code, grant.Tier, grant.Months, now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to ensure coupon row", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE coupons
		 SET used = TRUE,
		     used_by = $1,
		     used_at = $2
		 WHERE code = $3
		   AND used = FALSE`,
		userID, now, code,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim coupon", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get returns the coupon row, or (nil, nil) when it has never been seen.
func (r *CouponRepo) Get(ctx context.Context, code string) (*types.CouponRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT code, tier_grant, months, used, used_by, used_at, created_at
		 FROM coupons
		 WHERE code = $1`,
		code,
	)

	var rec types.CouponRecord
	var usedBy *string
	err := row.Scan(&rec.Code, &rec.TierGrant, &rec.Months, &rec.Used, &usedBy, &rec.UsedAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load coupon", err)
	}
	if usedBy != nil {
		rec.UsedBy = *usedBy
	}
	return &rec, nil
}

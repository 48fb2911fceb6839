package db

import (
	"context"
	"log/slog"
	"time"

	"vitalog/internal/types"
)

// TrialLedgerRepo manages the trial_ledger table. One row per user who
// has ever started a trial. The table is append-only in normal
// operation: routine account resets never touch it, which is what makes
// hasUsedTrial monotonic across entitlement-record recreation.
type TrialLedgerRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewTrialLedgerRepo creates a TrialLedgerRepo.
func NewTrialLedgerRepo(db DBTX, logger *slog.Logger) *TrialLedgerRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrialLedgerRepo{db: db, logger: logger}
}

// Claim records that the user has consumed their trial. Returns true
// when this call won the claim, false when the trial was already used.
func (r *TrialLedgerRepo) Claim(ctx context.Context, userID string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO trial_ledger (user_id, started_at)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim trial", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Erase removes the user's trial history. Only the explicit full-erase
// admin path calls this.
func (r *TrialLedgerRepo) Erase(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM trial_ledger WHERE user_id = $1`, userID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to erase trial ledger", err)
	}
	return nil
}

package db

import (
	"context"
	"log/slog"
	"time"

	"vitalog/internal/types"
)

// ProcessedEventRepo manages the processed_events table, the idempotency
// barrier for provider webhooks. The primary key on event_id makes
// INSERT ... ON CONFLICT DO NOTHING the dedup primitive.
type ProcessedEventRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewProcessedEventRepo creates a ProcessedEventRepo.
func NewProcessedEventRepo(db DBTX, logger *slog.Logger) *ProcessedEventRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessedEventRepo{db: db, logger: logger}
}

// MarkProcessed claims an event ID. Returns true when this call won the
// claim and the caller should apply the event, false when the event was
// already processed. The claim is written before the mutation, so a
// crash between claim and apply drops the event rather than applying it
// twice; the provider's retries cannot double-apply.
func (r *ProcessedEventRepo) MarkProcessed(ctx context.Context, eventID, eventType string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO processed_events (event_id, event_type, processed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record processed event", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PurgeOlderThan deletes processed-event rows older than the cutoff and
// returns the number removed. Rows only guard against provider retries,
// which stop well within any sane retention window.
func (r *ProcessedEventRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM processed_events WHERE processed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge processed events", err)
	}
	return tag.RowsAffected(), nil
}

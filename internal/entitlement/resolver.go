// Package entitlement implements the entitlement state machine: lazy
// expiry at read time, trial lifecycle, provider event ingestion and
// admin overrides. There is no background scheduler; every state
// transition happens on a request path.
package entitlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vitalog/internal/db"
	"vitalog/internal/types"
)

// Store is the persistence surface the resolver needs. *db.Store
// implements it.
type Store interface {
	EnsureEntitlement(ctx context.Context, userID string) error
	GetEntitlement(ctx context.Context, userID string) (*types.EntitlementRecord, error)
	ApplySubscription(ctx context.Context, userID string, u db.SubscriptionUpdate) error
	ExpireIfPast(ctx context.Context, userID string, now time.Time) (bool, error)
	RecordPaymentFailure(ctx context.Context, userID string, failedAt time.Time) error
	OverrideEntitlement(ctx context.Context, userID string, o db.AdminOverride) error
	StartTrial(ctx context.Context, userID string, tier types.PlanTier, trialEnd time.Time, now time.Time) (bool, error)
	ResetAccount(ctx context.Context, userID string, erase bool) error
	MarkEventProcessed(ctx context.Context, eventID, eventType string, now time.Time) (bool, error)
	PurgeProcessedEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// ChangePublisher notifies downstream consumers (the bot UI) that a
// user's entitlement changed. Publishing is best-effort everywhere:
// failures are logged, never surfaced to the caller.
type ChangePublisher interface {
	PublishChange(ctx context.Context, msg types.EntitlementChanged) error
}

// Resolver answers "what is this user entitled to right now" and owns
// the trial, override and reset transitions.
type Resolver struct {
	store     Store
	publisher ChangePublisher
	logger    *slog.Logger
	trialDays int
	now       func() time.Time
}

// NewResolver creates a Resolver. trialDays is the configured trial length.
func NewResolver(store Store, publisher ChangePublisher, trialDays int, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:     store,
		publisher: publisher,
		logger:    logger,
		trialDays: trialDays,
		now:       time.Now,
	}
}

// Resolve returns the user's current entitlement, creating the default
// free record on first contact and applying lazy expiry before
// answering. The record returned never claims access past its
// paid-through moment.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*types.EntitlementRecord, error) {
	if err := r.store.EnsureEntitlement(ctx, userID); err != nil {
		return nil, err
	}

	now := r.now()
	expired, err := r.store.ExpireIfPast(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if expired {
		r.logger.Info("entitlement lapsed at read time",
			slog.String("user_id", userID))
		r.publish(ctx, userID, types.PlanFree, types.StatusInactive, "expired")
	}

	rec, err := r.store.GetEntitlement(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, types.NewAppError(types.ErrCodeEntitlementNotFound, "entitlement row missing after ensure", nil)
	}
	return rec, nil
}

// StartTrial begins the user's one free trial. The trial is consumable
// exactly once per user, ever; the ledger claim survives account resets.
func (r *Resolver) StartTrial(ctx context.Context, userID string) (types.TrialStatus, *types.EntitlementRecord, error) {
	if err := r.store.EnsureEntitlement(ctx, userID); err != nil {
		return "", nil, err
	}

	now := r.now()
	trialEnd := now.AddDate(0, 0, r.trialDays)
	started, err := r.store.StartTrial(ctx, userID, types.PlanMonthly, trialEnd, now)
	if err != nil {
		return "", nil, err
	}
	if !started {
		return types.TrialAlreadyUsed, nil, nil
	}

	r.logger.Info("trial started",
		slog.String("user_id", userID),
		slog.Time("trial_end", trialEnd))
	r.publish(ctx, userID, types.PlanMonthly, types.StatusTrialing, "trial_started")

	rec, err := r.store.GetEntitlement(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	return types.TrialStarted, rec, nil
}

// Override force-writes entitlement state from the admin surface.
func (r *Resolver) Override(ctx context.Context, userID string, o db.AdminOverride) (*types.EntitlementRecord, error) {
	if err := r.store.EnsureEntitlement(ctx, userID); err != nil {
		return nil, err
	}
	if err := r.store.OverrideEntitlement(ctx, userID, o); err != nil {
		return nil, err
	}

	r.logger.Info("entitlement overridden",
		slog.String("user_id", userID),
		slog.String("plan_tier", string(o.PlanTier)),
		slog.String("status", string(o.Status)))
	r.publish(ctx, userID, o.PlanTier, o.Status, "admin_override")

	return r.store.GetEntitlement(ctx, userID)
}

// Reset deletes the user's entitlement record. Trial history survives
// unless erase is set; see the trial ledger semantics in db.
func (r *Resolver) Reset(ctx context.Context, userID string, erase bool) error {
	if err := r.store.ResetAccount(ctx, userID, erase); err != nil {
		return err
	}
	r.logger.Info("account reset",
		slog.String("user_id", userID),
		slog.Bool("erase", erase))
	r.publish(ctx, userID, types.PlanFree, types.StatusInactive, "account_reset")
	return nil
}

// PurgeProcessedEvents deletes idempotency records older than retention.
func (r *Resolver) PurgeProcessedEvents(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := r.now().Add(-retention)
	return r.store.PurgeProcessedEvents(ctx, cutoff)
}

func (r *Resolver) publish(ctx context.Context, userID string, tier types.PlanTier, status types.EntitlementStatus, reason string) {
	if r.publisher == nil {
		return
	}
	msg := types.EntitlementChanged{
		MessageID:  uuid.NewString(),
		UserID:     userID,
		PlanTier:   tier,
		Status:     status,
		Reason:     reason,
		OccurredAt: r.now(),
	}
	if err := r.publisher.PublishChange(ctx, msg); err != nil {
		r.logger.Error("failed to publish entitlement change",
			slog.String("user_id", userID),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
	}
}

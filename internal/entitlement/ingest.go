package entitlement

import (
	"context"
	"log/slog"
	"time"

	"vitalog/internal/db"
	"vitalog/internal/types"
)

// PriceClassifier maps provider price IDs to plan tiers.
// *billing.PlanClassifier implements it.
type PriceClassifier interface {
	ClassifyPrice(priceID string) types.PlanTier
}

// Ingestor applies normalized provider lifecycle events to entitlement
// state, exactly at most once per event ID.
type Ingestor struct {
	store      Store
	classifier PriceClassifier
	publisher  ChangePublisher
	logger     *slog.Logger
	now        func() time.Time
}

// NewIngestor creates an Ingestor.
func NewIngestor(store Store, classifier PriceClassifier, publisher ChangePublisher, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:      store,
		classifier: classifier,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}
}

// Ingest claims the event ID and, on winning the claim, applies the
// event to the user's entitlement. Replays and concurrent duplicate
// deliveries observe a lost claim and return IngestAlreadyProcessed
// without touching state. Events that carry no user reference are
// acknowledged as ignored so the provider stops retrying them.
func (i *Ingestor) Ingest(ctx context.Context, evt types.SubscriptionEvent) (types.IngestOutcome, error) {
	now := i.now()

	claimed, err := i.store.MarkEventProcessed(ctx, evt.EventID, string(evt.Type), now)
	if err != nil {
		return "", err
	}
	if !claimed {
		i.logger.Info("duplicate event skipped",
			slog.String("event_id", evt.EventID),
			slog.String("event_type", string(evt.Type)))
		return types.IngestAlreadyProcessed, nil
	}

	if evt.UserID == "" {
		i.logger.Warn("event without user reference ignored",
			slog.String("event_id", evt.EventID),
			slog.String("event_type", string(evt.Type)))
		return types.IngestIgnored, nil
	}

	if err := i.store.EnsureEntitlement(ctx, evt.UserID); err != nil {
		return "", err
	}

	switch evt.Type {
	case types.EventCheckoutCompleted, types.EventSubscriptionCreated:
		return i.applyActivation(ctx, evt, now)

	case types.EventSubscriptionUpdated:
		return i.applyUpdate(ctx, evt, now)

	case types.EventSubscriptionDeleted:
		return i.applyDowngrade(ctx, evt)

	case types.EventInvoicePaid:
		return i.applyInvoicePaid(ctx, evt)

	case types.EventInvoiceFailed:
		// Dunning starts but the user stays entitled until the period
		// end they already paid through. Lazy expiry closes it out.
		if err := i.store.RecordPaymentFailure(ctx, evt.UserID, now); err != nil {
			return "", err
		}
		i.logger.Warn("payment failure recorded",
			slog.String("user_id", evt.UserID),
			slog.String("event_id", evt.EventID))
		// Entitled state is unchanged, so no change event goes out.
		return types.IngestApplied, nil

	default:
		i.logger.Warn("unhandled event type ignored",
			slog.String("event_id", evt.EventID),
			slog.String("event_type", string(evt.Type)))
		return types.IngestIgnored, nil
	}
}

func (i *Ingestor) applyActivation(ctx context.Context, evt types.SubscriptionEvent, now time.Time) (types.IngestOutcome, error) {
	tier := i.classifier.ClassifyPrice(evt.PriceID)
	status := types.StatusActive
	if evt.TrialEnd != nil && evt.TrialEnd.After(now) {
		status = types.StatusTrialing
	}

	// Checkout sessions can arrive without period bounds; the follow-up
	// subscription event supplies them. Until it lands the row has no
	// paid-through moment for read-time expiry to close, and the admin
	// reconciliation lookup is the correction path if it never does.
	err := i.store.ApplySubscription(ctx, evt.UserID, db.SubscriptionUpdate{
		PlanTier:       tier,
		Status:         status,
		PeriodStart:    evt.PeriodStart,
		PeriodEnd:      evt.PeriodEnd,
		TrialEnd:       evt.TrialEnd,
		SubscriptionID: evt.SubscriptionID,
		CustomerID:     evt.CustomerID,
	})
	if err != nil {
		return "", err
	}

	i.logger.Info("subscription activated",
		slog.String("user_id", evt.UserID),
		slog.String("plan_tier", string(tier)),
		slog.String("status", string(status)))
	i.publishFor(ctx, evt, tier, status, "subscription_activated")
	return types.IngestApplied, nil
}

func (i *Ingestor) applyUpdate(ctx context.Context, evt types.SubscriptionEvent, now time.Time) (types.IngestOutcome, error) {
	switch evt.ProviderStatus {
	case "canceled", "unpaid", "incomplete_expired":
		return i.applyDowngrade(ctx, evt)
	}

	tier := i.classifier.ClassifyPrice(evt.PriceID)
	status := types.StatusActive
	switch {
	case evt.CancelAtPeriodEnd:
		// Access continues until current_period_end; lazy expiry
		// downgrades after that.
		status = types.StatusCancelAtPeriodEnd
	case evt.ProviderStatus == "trialing":
		status = types.StatusTrialing
	case evt.ProviderStatus == "past_due":
		// Grace: entitled until the paid-through date.
		status = types.StatusActive
	}

	err := i.store.ApplySubscription(ctx, evt.UserID, db.SubscriptionUpdate{
		PlanTier:       tier,
		Status:         status,
		PeriodStart:    evt.PeriodStart,
		PeriodEnd:      evt.PeriodEnd,
		TrialEnd:       evt.TrialEnd,
		SubscriptionID: evt.SubscriptionID,
		CustomerID:     evt.CustomerID,
	})
	if err != nil {
		return "", err
	}

	i.logger.Info("subscription updated",
		slog.String("user_id", evt.UserID),
		slog.String("plan_tier", string(tier)),
		slog.String("status", string(status)),
		slog.String("provider_status", evt.ProviderStatus))
	i.publishFor(ctx, evt, tier, status, "subscription_updated")
	return types.IngestApplied, nil
}

func (i *Ingestor) applyDowngrade(ctx context.Context, evt types.SubscriptionEvent) (types.IngestOutcome, error) {
	err := i.store.ApplySubscription(ctx, evt.UserID, db.SubscriptionUpdate{
		PlanTier:   types.PlanFree,
		Status:     types.StatusInactive,
		CustomerID: evt.CustomerID,
	})
	if err != nil {
		return "", err
	}

	i.logger.Info("subscription ended",
		slog.String("user_id", evt.UserID),
		slog.String("event_id", evt.EventID))
	i.publishFor(ctx, evt, types.PlanFree, types.StatusInactive, "subscription_ended")
	return types.IngestApplied, nil
}

func (i *Ingestor) applyInvoicePaid(ctx context.Context, evt types.SubscriptionEvent) (types.IngestOutcome, error) {
	if evt.PeriodEnd == nil {
		// One-off invoice with no cycle bounds; nothing to extend.
		return types.IngestIgnored, nil
	}

	tier := i.classifier.ClassifyPrice(evt.PriceID)
	err := i.store.ApplySubscription(ctx, evt.UserID, db.SubscriptionUpdate{
		PlanTier:       tier,
		Status:         types.StatusActive,
		PeriodStart:    evt.PeriodStart,
		PeriodEnd:      evt.PeriodEnd,
		SubscriptionID: evt.SubscriptionID,
		CustomerID:     evt.CustomerID,
	})
	if err != nil {
		return "", err
	}

	i.logger.Info("billing cycle renewed",
		slog.String("user_id", evt.UserID),
		slog.Time("period_end", *evt.PeriodEnd))
	i.publishFor(ctx, evt, tier, types.StatusActive, "cycle_renewed")
	return types.IngestApplied, nil
}

func (i *Ingestor) publishFor(ctx context.Context, evt types.SubscriptionEvent, tier types.PlanTier, status types.EntitlementStatus, reason string) {
	if i.publisher == nil {
		return
	}
	msg := types.EntitlementChanged{
		MessageID:  evt.EventID,
		UserID:     evt.UserID,
		PlanTier:   tier,
		Status:     status,
		Reason:     reason,
		OccurredAt: i.now(),
	}
	if err := i.publisher.PublishChange(ctx, msg); err != nil {
		i.logger.Error("failed to publish entitlement change",
			slog.String("user_id", evt.UserID),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
	}
}

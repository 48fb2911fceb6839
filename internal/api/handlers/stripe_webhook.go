// Package handlers contains the HTTP handler implementations for the
// VitaLog entitlement API.
//
// The Stripe webhook endpoint is not behind auth middleware; it is
// called directly by Stripe and secured by verifying the
// Stripe-Signature header.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vitalog/internal/core"
	"vitalog/internal/external"
	"vitalog/internal/types"
)

// maxWebhookBodySize caps Stripe webhook payloads at 64 KB.
const maxWebhookBodySize = 64 * 1024

// WebhookVerifier checks a webhook payload against its signature header.
// *external.StripeVerifier implements it.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// EventIngestor applies a normalized lifecycle event to entitlement
// state. *entitlement.Ingestor implements it.
type EventIngestor interface {
	Ingest(ctx context.Context, evt types.SubscriptionEvent) (types.IngestOutcome, error)
}

// StripeWebhookHandler receives asynchronous lifecycle events from
// Stripe, verifies their signature, normalizes them and hands them to
// the ingestor.
type StripeWebhookHandler struct {
	verifier WebhookVerifier
	ingestor EventIngestor
	metrics  external.Collector
	secret   types.SecretString
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(
	verifier WebhookVerifier,
	ingestor EventIngestor,
	metrics external.Collector,
	secret types.SecretString,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = external.NoopCollector{}
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		ingestor: ingestor,
		metrics:  metrics,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Kept separate from the
// authenticated handlers because this route is public.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// webhookAck is the response body Stripe receives.
type webhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

// Handle processes one webhook delivery.
//
//  1. Reads the raw body (size-limited) and the Stripe-Signature header.
//  2. Verifies the signature against the signing secret.
//  3. Parses the event and normalizes it to a SubscriptionEvent.
//  4. Ingests it; duplicate deliveries are acknowledged without effect.
//
// Processing failures return 503 so Stripe redelivers; the idempotency
// guard keeps the retry from double-applying.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body",
			slog.String("error", err.Error()))
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookBadPayload,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookBadSig,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret.Value()); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			slog.String("error", err.Error()))
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookBadSig,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var raw stripeWebhookEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event",
			slog.String("error", err.Error()))
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookBadPayload,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	evt, recognized := raw.normalize()
	if !recognized {
		h.logger.InfoContext(r.Context(), "ignoring unhandled webhook event type",
			slog.String("event_type", raw.Type))
		h.metrics.CountWebhook(r.Context(), raw.Type, types.IngestIgnored)
		core.JSON(w, r, http.StatusOK, webhookAck{Received: true, Outcome: string(types.IngestIgnored)})
		return
	}

	outcome, err := h.ingestor.Ingest(r.Context(), evt)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			slog.String("event_id", evt.EventID),
			slog.String("event_type", string(evt.Type)),
			slog.String("error", err.Error()))
		// 5xx makes Stripe redeliver. If the claim row was written the
		// retry lands on the idempotency guard and acks immediately; if
		// the failure hit before the claim, the retry gets another shot
		// at applying the event instead of losing it.
		core.Error(w, r, types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			"event processing failed",
			err,
		))
		return
	}

	h.metrics.CountWebhook(r.Context(), string(evt.Type), outcome)
	h.logger.InfoContext(r.Context(), "webhook event processed",
		slog.String("event_id", evt.EventID),
		slog.String("event_type", string(evt.Type)),
		slog.String("outcome", string(outcome)))

	core.JSON(w, r, http.StatusOK, webhookAck{Received: true, Outcome: string(outcome)})
}

// ---------------------------------------------------------------------
// Stripe event parsing
// ---------------------------------------------------------------------

// Provider event type strings handled by this endpoint.
const (
	evtCheckoutCompleted = "checkout.session.completed"
	evtSubCreated        = "customer.subscription.created"
	evtSubUpdated        = "customer.subscription.updated"
	evtSubDeleted        = "customer.subscription.deleted"
	evtInvoicePaid       = "invoice.paid"
	evtInvoiceFailed     = "invoice.payment_failed"
)

// stripeWebhookEvent is a minimal representation of a Stripe event,
// decoupled from stripe-go's full Event type so parsing stays under the
// handler's control and tests can construct payloads directly.
type stripeWebhookEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSessionObj struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeSubscriptionObj struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	TrialEnd           int64             `json:"trial_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              stripeSubItems    `json:"items"`
}

type stripeSubItems struct {
	Data []stripeSubItem `json:"data"`
}

type stripeSubItem struct {
	Price stripeSubPrice `json:"price"`
}

type stripeSubPrice struct {
	ID string `json:"id"`
}

type stripeInvoiceObj struct {
	Customer            string            `json:"customer"`
	Subscription        string            `json:"subscription"`
	PeriodStart         int64             `json:"period_start"`
	PeriodEnd           int64             `json:"period_end"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails *stripeSubDetails `json:"subscription_details"`
	Lines               stripeInvLines    `json:"lines"`
}

type stripeSubDetails struct {
	Metadata map[string]string `json:"metadata"`
}

type stripeInvLines struct {
	Data []stripeInvLine `json:"data"`
}

type stripeInvLine struct {
	Price  stripeSubPrice `json:"price"`
	Period stripeInvSpan  `json:"period"`
}

type stripeInvSpan struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// normalize maps the raw provider event to the internal SubscriptionEvent.
// The second return is false for event types this service does not handle.
func (e *stripeWebhookEvent) normalize() (types.SubscriptionEvent, bool) {
	evt := types.SubscriptionEvent{EventID: e.ID}

	switch e.Type {
	case evtCheckoutCompleted:
		evt.Type = types.EventCheckoutCompleted
		var session stripeCheckoutSessionObj
		if err := json.Unmarshal(e.Data.Object, &session); err != nil {
			return evt, true
		}
		evt.UserID = extractUserID(session.Metadata, session.ClientReferenceID)
		evt.SubscriptionID = session.Subscription
		evt.CustomerID = session.Customer
		return evt, true

	case evtSubCreated, evtSubUpdated, evtSubDeleted:
		switch e.Type {
		case evtSubCreated:
			evt.Type = types.EventSubscriptionCreated
		case evtSubUpdated:
			evt.Type = types.EventSubscriptionUpdated
		default:
			evt.Type = types.EventSubscriptionDeleted
		}
		var sub stripeSubscriptionObj
		if err := json.Unmarshal(e.Data.Object, &sub); err != nil {
			return evt, true
		}
		evt.UserID = extractUserID(sub.Metadata, "")
		evt.SubscriptionID = sub.ID
		evt.CustomerID = sub.Customer
		evt.ProviderStatus = sub.Status
		evt.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		evt.PeriodStart = unixPtr(sub.CurrentPeriodStart)
		evt.PeriodEnd = unixPtr(sub.CurrentPeriodEnd)
		evt.TrialEnd = unixPtr(sub.TrialEnd)
		if len(sub.Items.Data) > 0 {
			evt.PriceID = sub.Items.Data[0].Price.ID
		}
		return evt, true

	case evtInvoicePaid, evtInvoiceFailed:
		if e.Type == evtInvoicePaid {
			evt.Type = types.EventInvoicePaid
		} else {
			evt.Type = types.EventInvoiceFailed
		}
		var invoice stripeInvoiceObj
		if err := json.Unmarshal(e.Data.Object, &invoice); err != nil {
			return evt, true
		}
		meta := invoice.Metadata
		if invoice.SubscriptionDetails != nil && invoice.SubscriptionDetails.Metadata["userId"] != "" {
			meta = invoice.SubscriptionDetails.Metadata
		}
		evt.UserID = extractUserID(meta, "")
		evt.SubscriptionID = invoice.Subscription
		evt.CustomerID = invoice.Customer
		if len(invoice.Lines.Data) > 0 {
			line := invoice.Lines.Data[0]
			evt.PriceID = line.Price.ID
			evt.PeriodStart = unixPtr(line.Period.Start)
			evt.PeriodEnd = unixPtr(line.Period.End)
		} else {
			evt.PeriodStart = unixPtr(invoice.PeriodStart)
			evt.PeriodEnd = unixPtr(invoice.PeriodEnd)
		}
		return evt, true

	default:
		return evt, false
	}
}

// extractUserID prefers metadata.userId (set when the checkout session
// is created), falling back to client_reference_id.
func extractUserID(metadata map[string]string, clientRef string) string {
	if id := metadata["userId"]; id != "" {
		return id
	}
	return clientRef
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

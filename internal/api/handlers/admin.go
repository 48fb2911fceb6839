package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vitalog/internal/core"
	"vitalog/internal/db"
	"vitalog/internal/external"
	"vitalog/internal/types"
)

// defaultEventRetention bounds the processed-events purge when the
// caller does not pass an explicit retention window.
const defaultEventRetention = 90 * 24 * time.Hour

// EntitlementAdmin exposes the operator-only mutations.
// *entitlement.Resolver implements it.
type EntitlementAdmin interface {
	Override(ctx context.Context, userID string, o db.AdminOverride) (*types.EntitlementRecord, error)
	Reset(ctx context.Context, userID string, erase bool) error
	PurgeProcessedEvents(ctx context.Context, retention time.Duration) (int64, error)
}

// SubscriptionReader fetches live subscription state from the billing
// provider. *external.StripeClient implements it.
type SubscriptionReader interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*external.SubscriptionView, error)
}

// AdminHandler serves the operator endpoints. All of its routes sit
// behind the admin key middleware.
type AdminHandler struct {
	admin         EntitlementAdmin
	subscriptions SubscriptionReader
	logger        *slog.Logger
}

// NewAdminHandler creates an AdminHandler. subscriptions may be nil,
// in which case the provider lookup endpoint reports unavailable.
func NewAdminHandler(admin EntitlementAdmin, subscriptions SubscriptionReader, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{admin: admin, subscriptions: subscriptions, logger: logger}
}

// RegisterRoutes mounts the admin subtree.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Put("/entitlements/{userID}", h.Override)
	r.Post("/entitlements/{userID}/reset", h.Reset)
	r.Delete("/processed-events", h.PurgeProcessedEvents)
	r.Get("/subscriptions/{subscriptionID}", h.GetSubscription)
}

type overrideRequest struct {
	PlanTier  string     `json:"planTier"`
	Status    string     `json:"status"`
	PeriodEnd *time.Time `json:"periodEnd"`
	TrialEnd  *time.Time `json:"trialEnd"`
}

// Override force-sets a user's entitlement, bypassing provider state.
// Used for support escalations and manual corrections.
func (h *AdminHandler) Override(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		core.Error(w, r, types.NewValidationError(
			types.ErrCodeInvalidUserID, "user id is required", nil))
		return
	}

	var req overrideRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	tier := types.PlanTier(req.PlanTier)
	if !tier.Valid() {
		core.Error(w, r, types.NewValidationError(
			types.ErrCodeInvalidPlanTier, "unknown plan tier",
			map[string]any{"planTier": req.PlanTier}))
		return
	}
	status := types.EntitlementStatus(req.Status)
	if !status.Valid() {
		core.Error(w, r, types.NewValidationError(
			types.ErrCodeInvalidStatus, "unknown entitlement status",
			map[string]any{"status": req.Status}))
		return
	}

	rec, err := h.admin.Override(r.Context(), userID, db.AdminOverride{
		PlanTier:  tier,
		Status:    status,
		PeriodEnd: req.PeriodEnd,
		TrialEnd:  req.TrialEnd,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "entitlement overridden",
		slog.String("user_id", userID),
		slog.String("plan_tier", string(tier)),
		slog.String("status", string(status)))

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rec})
}

type resetResponse struct {
	Reset  bool `json:"reset"`
	Erased bool `json:"erased"`
}

// Reset returns the user to the free tier. With erase=true the trial
// claim is also cleared, letting the user trial again.
func (h *AdminHandler) Reset(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		core.Error(w, r, types.NewValidationError(
			types.ErrCodeInvalidUserID, "user id is required", nil))
		return
	}

	erase := r.URL.Query().Get("erase") == "true"
	if err := h.admin.Reset(r.Context(), userID, erase); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "entitlement reset",
		slog.String("user_id", userID),
		slog.Bool("erase", erase))

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: resetResponse{Reset: true, Erased: erase},
	})
}

type purgeResponse struct {
	Deleted   int64  `json:"deleted"`
	Retention string `json:"retention"`
}

// PurgeProcessedEvents deletes idempotency records older than the
// retention window. Events inside the window must be kept or replayed
// deliveries would double-apply.
func (h *AdminHandler) PurgeProcessedEvents(w http.ResponseWriter, r *http.Request) {
	retention := defaultEventRetention
	if raw := r.URL.Query().Get("retention"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			core.Error(w, r, types.NewValidationError(
				types.ErrCodeInvalidRetention,
				"retention must be a positive duration",
				map[string]any{"retention": raw}))
			return
		}
		retention = d
	}

	deleted, err := h.admin.PurgeProcessedEvents(r.Context(), retention)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "processed events purged",
		slog.Int64("deleted", deleted),
		slog.String("retention", retention.String()))

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: purgeResponse{Deleted: deleted, Retention: retention.String()},
	})
}

// GetSubscription reads the provider's current view of a subscription,
// for comparing against local entitlement state during support work.
func (h *AdminHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	if h.subscriptions == nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			"billing provider client is not configured",
			nil,
		))
		return
	}

	subscriptionID := chi.URLParam(r, "subscriptionID")
	if subscriptionID == "" {
		core.Error(w, r, types.NewValidationError(
			types.ErrCodeMissingField, "subscription id is required", nil))
		return
	}

	view, err := h.subscriptions.GetSubscription(r.Context(), subscriptionID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: view})
}

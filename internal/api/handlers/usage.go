package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vitalog/internal/billing"
	"vitalog/internal/core"
	"vitalog/internal/external"
	"vitalog/internal/types"
)

// QuotaConsumer performs the atomic check-and-increment against the
// usage counters. *quota.Tracker implements it.
type QuotaConsumer interface {
	CheckAndIncrement(ctx context.Context, userID string, feature types.FeatureType, limit int) (types.UsageDecision, error)
}

// UsageHandler gates feature consumption behind the daily quota.
type UsageHandler struct {
	resolver EntitlementResolver
	quota    QuotaConsumer
	metrics  external.Collector
	logger   *slog.Logger
}

// NewUsageHandler creates a UsageHandler.
func NewUsageHandler(
	resolver EntitlementResolver,
	quota QuotaConsumer,
	metrics external.Collector,
	logger *slog.Logger,
) *UsageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = external.NoopCollector{}
	}
	return &UsageHandler{
		resolver: resolver,
		quota:    quota,
		metrics:  metrics,
		logger:   logger,
	}
}

// RegisterRoutes mounts the usage check endpoint.
func (h *UsageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/usage/check", h.Check)
}

type usageCheckRequest struct {
	UserID  string `json:"userId"`
	Feature string `json:"feature"`
}

// Check consumes one unit of the feature if the user's tier and today's
// count allow it. The entitlement is resolved first so the limit
// reflects lazy expiry; a denied attempt does not increment.
func (h *UsageHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req usageCheckRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.UserID == "" {
		core.Error(w, r, types.NewValidationError(
			types.ErrCodeInvalidUserID, "userId is required", nil))
		return
	}
	feature := types.FeatureType(req.Feature)
	if !feature.Valid() {
		core.Error(w, r, types.NewValidationError(
			types.ErrCodeInvalidFeature, "unknown feature",
			map[string]any{"feature": req.Feature}))
		return
	}

	rec, err := h.resolver.Resolve(r.Context(), req.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	limit := billing.DailyLimit(rec.PlanTier, feature)
	decision, err := h.quota.CheckAndIncrement(r.Context(), req.UserID, feature, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if !decision.Allowed {
		h.metrics.CountQuotaDenied(r.Context(), feature, rec.PlanTier)
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: decision})
}

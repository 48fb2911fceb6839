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

// EntitlementResolver answers entitlement queries and owns the trial
// transition. *entitlement.Resolver implements it.
type EntitlementResolver interface {
	Resolve(ctx context.Context, userID string) (*types.EntitlementRecord, error)
	StartTrial(ctx context.Context, userID string) (types.TrialStatus, *types.EntitlementRecord, error)
}

// UsageReader reports current consumption without incrementing.
// *quota.Tracker implements it.
type UsageReader interface {
	Snapshot(ctx context.Context, userID string, limits map[types.FeatureType]int) (map[types.FeatureType]types.FeatureUsage, error)
	Day() string
}

// EntitlementHandler serves entitlement state queries, the usage
// snapshot and trial starts.
type EntitlementHandler struct {
	resolver EntitlementResolver
	usage    UsageReader
	metrics  external.Collector
	logger   *slog.Logger
}

// NewEntitlementHandler creates an EntitlementHandler.
func NewEntitlementHandler(
	resolver EntitlementResolver,
	usage UsageReader,
	metrics external.Collector,
	logger *slog.Logger,
) *EntitlementHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = external.NoopCollector{}
	}
	return &EntitlementHandler{
		resolver: resolver,
		usage:    usage,
		metrics:  metrics,
		logger:   logger,
	}
}

// RegisterRoutes mounts the entitlement endpoints.
func (h *EntitlementHandler) RegisterRoutes(r chi.Router) {
	r.Get("/entitlements/{userID}", h.Get)
	r.Get("/entitlements/{userID}/usage", h.Usage)
	r.Post("/entitlements/{userID}/trial", h.StartTrial)
}

// Get returns the user's current entitlement. Lazy expiry is applied
// before answering, so the response never claims access past the
// paid-through moment.
func (h *EntitlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		core.Error(w, r, types.NewValidationError(
			types.ErrCodeInvalidUserID, "user id is required", nil))
		return
	}

	rec, err := h.resolver.Resolve(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rec})
}

// Usage returns today's consumption against the user's tier limits.
func (h *EntitlementHandler) Usage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		core.Error(w, r, types.NewValidationError(
			types.ErrCodeInvalidUserID, "user id is required", nil))
		return
	}

	rec, err := h.resolver.Resolve(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	features, err := h.usage.Snapshot(r.Context(), userID, billing.Limits(rec.PlanTier))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	snapshot := types.UsageSnapshot{
		UserID:   userID,
		Date:     h.usage.Day(),
		PlanTier: rec.PlanTier,
		Features: features,
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: snapshot})
}

// trialResponse reports the trial attempt result alongside the record.
type trialResponse struct {
	Status      types.TrialStatus        `json:"status"`
	Entitlement *types.EntitlementRecord `json:"entitlement,omitempty"`
}

// StartTrial begins the user's one free trial. A consumed trial claim
// returns 409 with status already_used; the claim survives account
// resets.
func (h *EntitlementHandler) StartTrial(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		core.Error(w, r, types.NewValidationError(
			types.ErrCodeInvalidUserID, "user id is required", nil))
		return
	}

	status, rec, err := h.resolver.StartTrial(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if status == types.TrialAlreadyUsed {
		core.JSON(w, r, http.StatusConflict, core.APIResponse{
			Data: trialResponse{Status: status},
		})
		return
	}

	h.metrics.CountTrialStarted(r.Context())
	core.JSON(w, r, http.StatusCreated, core.APIResponse{
		Data: trialResponse{Status: status, Entitlement: rec},
	})
}

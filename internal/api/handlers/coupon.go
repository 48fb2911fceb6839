package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vitalog/internal/core"
	"vitalog/internal/external"
	"vitalog/internal/types"
)

// CouponRedeemer validates and redeems campaign coupon codes.
// *coupon.Engine implements it.
type CouponRedeemer interface {
	Redeem(ctx context.Context, userID, rawCode string) (types.RedeemStatus, *types.CouponGrant, error)
}

// CouponHandler serves coupon redemption.
type CouponHandler struct {
	engine  CouponRedeemer
	metrics external.Collector
	logger  *slog.Logger
}

// NewCouponHandler creates a CouponHandler.
func NewCouponHandler(engine CouponRedeemer, metrics external.Collector, logger *slog.Logger) *CouponHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = external.NoopCollector{}
	}
	return &CouponHandler{engine: engine, metrics: metrics, logger: logger}
}

// RegisterRoutes mounts the coupon endpoints.
func (h *CouponHandler) RegisterRoutes(r chi.Router) {
	r.Post("/coupons/redeem", h.Redeem)
}

type couponRedeemRequest struct {
	UserID string `json:"userId"`
	Code   string `json:"code"`
}

type couponRedeemResponse struct {
	Status   types.RedeemStatus `json:"status"`
	PlanTier types.PlanTier     `json:"planTier,omitempty"`
	Months   int                `json:"months,omitempty"`
}

// Redeem attempts the single-use claim on the code. Exactly one caller
// ever sees applied for a given code; a replay gets 409 already_used
// and an unrecognized format gets 400.
func (h *CouponHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req couponRedeemRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.UserID == "" {
		core.Error(w, r, types.NewValidationError(
			types.ErrCodeInvalidUserID, "userId is required", nil))
		return
	}

	status, grant, err := h.engine.Redeem(r.Context(), req.UserID, req.Code)
	if status == types.RedeemBadFormat {
		core.Error(w, r, err)
		return
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if status == types.RedeemAlreadyUsed {
		core.JSON(w, r, http.StatusConflict, core.APIResponse{
			Data: couponRedeemResponse{Status: status},
		})
		return
	}

	h.metrics.CountCouponRedeemed(r.Context(), grant.CouponType)
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: couponRedeemResponse{
			Status:   status,
			PlanTier: grant.Tier,
			Months:   grant.Months,
		},
	})
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"vitalog/internal/db"
	"vitalog/internal/external"
	"vitalog/internal/types"
)

// mockAdmin implements EntitlementAdmin for testing.
type mockAdmin struct {
	overrides   []overrideCall
	resets      []resetCall
	purges      []time.Duration
	overrideErr error
	resetErr    error
	purgeErr    error
	purged      int64
}

type overrideCall struct {
	UserID   string
	Override db.AdminOverride
}

type resetCall struct {
	UserID string
	Erase  bool
}

func (m *mockAdmin) Override(ctx context.Context, userID string, o db.AdminOverride) (*types.EntitlementRecord, error) {
	m.overrides = append(m.overrides, overrideCall{UserID: userID, Override: o})
	if m.overrideErr != nil {
		return nil, m.overrideErr
	}
	return &types.EntitlementRecord{
		UserID:   userID,
		PlanTier: o.PlanTier,
		Status:   o.Status,
	}, nil
}

func (m *mockAdmin) Reset(ctx context.Context, userID string, erase bool) error {
	m.resets = append(m.resets, resetCall{UserID: userID, Erase: erase})
	return m.resetErr
}

func (m *mockAdmin) PurgeProcessedEvents(ctx context.Context, retention time.Duration) (int64, error) {
	m.purges = append(m.purges, retention)
	return m.purged, m.purgeErr
}

// mockSubReader implements SubscriptionReader for testing.
type mockSubReader struct {
	view *external.SubscriptionView
	err  error
}

func (m *mockSubReader) GetSubscription(ctx context.Context, subscriptionID string) (*external.SubscriptionView, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.view, nil
}

func newAdminRouter(admin *mockAdmin, subs SubscriptionReader) chi.Router {
	r := chi.NewRouter()
	NewAdminHandler(admin, subs, nil).RegisterRoutes(r)
	return r
}

func TestAdminHandler_Override(t *testing.T) {
	admin := &mockAdmin{}
	router := newAdminRouter(admin, nil)

	body := `{"planTier":"lifetime","status":"lifetime"}`
	req := httptest.NewRequest(http.MethodPut, "/entitlements/user_1", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(admin.overrides) != 1 {
		t.Fatalf("expected 1 override call, got %d", len(admin.overrides))
	}
	call := admin.overrides[0]
	if call.UserID != "user_1" {
		t.Errorf("user id = %q, want user_1", call.UserID)
	}
	if call.Override.PlanTier != types.PlanLifetime || call.Override.Status != types.StatusLifetime {
		t.Errorf("override = %+v, want lifetime/lifetime", call.Override)
	}
}

func TestAdminHandler_OverrideWithPeriodEnd(t *testing.T) {
	admin := &mockAdmin{}
	router := newAdminRouter(admin, nil)

	body := `{"planTier":"promo_fixed_term","status":"active","periodEnd":"2026-12-01T00:00:00Z"}`
	req := httptest.NewRequest(http.MethodPut, "/entitlements/user_1", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	o := admin.overrides[0].Override
	if o.PeriodEnd == nil || !o.PeriodEnd.Equal(time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("period end = %v, want 2026-12-01", o.PeriodEnd)
	}
}

func TestAdminHandler_OverrideInvalidTier(t *testing.T) {
	admin := &mockAdmin{}
	router := newAdminRouter(admin, nil)

	body := `{"planTier":"platinum","status":"active"}`
	req := httptest.NewRequest(http.MethodPut, "/entitlements/user_1", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != string(types.ErrCodeInvalidPlanTier) {
		t.Errorf("error code = %q, want %q", code, types.ErrCodeInvalidPlanTier)
	}
	if len(admin.overrides) != 0 {
		t.Error("override should not be applied for an unknown tier")
	}
}

func TestAdminHandler_OverrideInvalidStatus(t *testing.T) {
	router := newAdminRouter(&mockAdmin{}, nil)

	body := `{"planTier":"monthly","status":"suspended"}`
	req := httptest.NewRequest(http.MethodPut, "/entitlements/user_1", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != string(types.ErrCodeInvalidStatus) {
		t.Errorf("error code = %q, want %q", code, types.ErrCodeInvalidStatus)
	}
}

func TestAdminHandler_Reset(t *testing.T) {
	admin := &mockAdmin{}
	router := newAdminRouter(admin, nil)

	req := httptest.NewRequest(http.MethodPost, "/entitlements/user_1/reset", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(admin.resets) != 1 || admin.resets[0].Erase {
		t.Errorf("resets = %+v, want one call without erase", admin.resets)
	}
}

func TestAdminHandler_ResetWithErase(t *testing.T) {
	admin := &mockAdmin{}
	router := newAdminRouter(admin, nil)

	req := httptest.NewRequest(http.MethodPost, "/entitlements/user_1/reset?erase=true", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(admin.resets) != 1 || !admin.resets[0].Erase {
		t.Errorf("resets = %+v, want one call with erase", admin.resets)
	}

	var resp struct {
		Data resetResponse `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Data.Erased {
		t.Error("response erased = false, want true")
	}
}

func TestAdminHandler_PurgeProcessedEvents(t *testing.T) {
	admin := &mockAdmin{purged: 17}
	router := newAdminRouter(admin, nil)

	req := httptest.NewRequest(http.MethodDelete, "/processed-events?retention=720h", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(admin.purges) != 1 || admin.purges[0] != 720*time.Hour {
		t.Errorf("purges = %v, want [720h]", admin.purges)
	}

	var resp struct {
		Data purgeResponse `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data.Deleted != 17 {
		t.Errorf("deleted = %d, want 17", resp.Data.Deleted)
	}
}

func TestAdminHandler_PurgeDefaultRetention(t *testing.T) {
	admin := &mockAdmin{}
	router := newAdminRouter(admin, nil)

	req := httptest.NewRequest(http.MethodDelete, "/processed-events", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(admin.purges) != 1 || admin.purges[0] != defaultEventRetention {
		t.Errorf("purges = %v, want the default retention", admin.purges)
	}
}

func TestAdminHandler_PurgeInvalidRetention(t *testing.T) {
	admin := &mockAdmin{}
	router := newAdminRouter(admin, nil)

	for _, raw := range []string{"soon", "-24h", "0s"} {
		req := httptest.NewRequest(http.MethodDelete, "/processed-events?retention="+raw, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("retention %q: expected status 400, got %d", raw, rr.Code)
		}
	}
	if len(admin.purges) != 0 {
		t.Error("purge should not run with an invalid retention")
	}
}

func TestAdminHandler_GetSubscription(t *testing.T) {
	subs := &mockSubReader{view: &external.SubscriptionView{
		SubscriptionID: "sub_test_1",
		Status:         "active",
	}}
	router := newAdminRouter(&mockAdmin{}, subs)

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/sub_test_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp struct {
		Data external.SubscriptionView `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data.SubscriptionID != "sub_test_1" {
		t.Errorf("subscription id = %q, want sub_test_1", resp.Data.SubscriptionID)
	}
}

func TestAdminHandler_GetSubscriptionNotConfigured(t *testing.T) {
	router := newAdminRouter(&mockAdmin{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/sub_test_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
}

package coupon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalog/internal/types"
)

// fakeCouponStore reproduces the guarded-flip semantics of the SQL
// store under a mutex.
type fakeCouponStore struct {
	mu     sync.Mutex
	usedBy map[string]string
	untils map[string]*time.Time
}

func newFakeCouponStore() *fakeCouponStore {
	return &fakeCouponStore{
		usedBy: make(map[string]string),
		untils: make(map[string]*time.Time),
	}
}

func (s *fakeCouponStore) RedeemCoupon(_ context.Context, code, userID string, _ types.CouponGrant, until *time.Time, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, used := s.usedBy[code]; used {
		return false, nil
	}
	s.usedBy[code] = userID
	s.untils[code] = until
	return true, nil
}

func TestParseCode(t *testing.T) {
	cases := []struct {
		raw      string
		wantTier types.PlanTier
		wantMo   int
	}{
		{"CF600-1M-0001", types.PlanPromoFixedTerm, 1},
		{"CF1500-3M-0042", types.PlanPromoFixedTerm, 3},
		{"CF3000-6M-1234", types.PlanPromoFixedTerm, 6},
		{"CF15000-LT-7", types.PlanLifetime, types.UnlimitedDaily},
		{"  cf600-1m-0001  ", types.PlanPromoFixedTerm, 1}, // normalized
	}
	for _, tc := range cases {
		code, grant, err := ParseCode(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.wantTier, grant.Tier, tc.raw)
		assert.Equal(t, tc.wantMo, grant.Months, tc.raw)
		assert.Regexp(t, codePattern, code)
	}
}

func TestParseCodeRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"CF600-1M",        // no serial
		"CF600-2M-0001",   // unknown duration
		"XY600-1M-0001",   // wrong prefix
		"CF600-1M-00a1",   // non-numeric serial
		"CF9999-LT-0001",  // valid shape, unknown campaign type
		"CF600-1M-0001-x", // trailing garbage
	} {
		_, _, err := ParseCode(raw)
		require.Error(t, err, raw)

		var appErr *types.AppError
		require.True(t, errors.As(err, &appErr), raw)
		assert.Equal(t, types.ErrCodeInvalidCouponCode, appErr.Code, raw)
	}
}

func TestEngine_Redeem(t *testing.T) {
	store := newFakeCouponStore()
	e := NewEngine(store, nil, nil)
	e.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	status, grant, err := e.Redeem(context.Background(), "user_1", "CF1500-3M-0042")
	require.NoError(t, err)
	assert.Equal(t, types.RedeemApplied, status)
	require.NotNil(t, grant)
	assert.Equal(t, types.PlanPromoFixedTerm, grant.Tier)

	until := store.untils["CF1500-3M-0042"]
	require.NotNil(t, until)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), *until)
}

func TestEngine_Redeem_LifetimeHasNoExpiry(t *testing.T) {
	store := newFakeCouponStore()
	e := NewEngine(store, nil, nil)

	status, grant, err := e.Redeem(context.Background(), "user_1", "CF15000-LT-0001")
	require.NoError(t, err)
	assert.Equal(t, types.RedeemApplied, status)
	assert.Equal(t, types.PlanLifetime, grant.Tier)
	assert.Nil(t, store.untils["CF15000-LT-0001"])
}

func TestEngine_Redeem_SecondAttemptRejected(t *testing.T) {
	store := newFakeCouponStore()
	e := NewEngine(store, nil, nil)

	status, _, err := e.Redeem(context.Background(), "user_1", "CF600-1M-0001")
	require.NoError(t, err)
	require.Equal(t, types.RedeemApplied, status)

	// A different user, and the same user retrying, both lose.
	status, grant, err := e.Redeem(context.Background(), "user_2", "CF600-1M-0001")
	require.NoError(t, err)
	assert.Equal(t, types.RedeemAlreadyUsed, status)
	assert.Nil(t, grant)

	status, _, err = e.Redeem(context.Background(), "user_1", "CF600-1M-0001")
	require.NoError(t, err)
	assert.Equal(t, types.RedeemAlreadyUsed, status)
}

func TestEngine_Redeem_ConcurrentExactlyOnce(t *testing.T) {
	store := newFakeCouponStore()
	e := NewEngine(store, nil, nil)

	const n = 32
	statuses := make([]types.RedeemStatus, n)
	var wg sync.WaitGroup
	for idx := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, err := e.Redeem(context.Background(), "user_1", "CF3000-6M-0099")
			assert.NoError(t, err)
			statuses[idx] = status
		}()
	}
	wg.Wait()

	applied := 0
	for _, s := range statuses {
		if s == types.RedeemApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
}

func TestEngine_Redeem_BadFormatDoesNotTouchStore(t *testing.T) {
	store := newFakeCouponStore()
	e := NewEngine(store, nil, nil)

	status, _, err := e.Redeem(context.Background(), "user_1", "not-a-coupon")
	require.Error(t, err)
	assert.Equal(t, types.RedeemBadFormat, status)
	assert.Empty(t, store.usedBy)
}

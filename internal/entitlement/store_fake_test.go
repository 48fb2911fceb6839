package entitlement

import (
	"context"
	"sync"
	"time"

	"vitalog/internal/db"
	"vitalog/internal/types"
)

// fakeStore is an in-memory Store implementing the same semantics as
// the SQL-backed one: conditional writes under a single mutex stand in
// for the database's row-level atomicity.
type fakeStore struct {
	mu           sync.Mutex
	entitlements map[string]*types.EntitlementRecord
	processed    map[string]time.Time
	trialLedger  map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entitlements: make(map[string]*types.EntitlementRecord),
		processed:    make(map[string]time.Time),
		trialLedger:  make(map[string]time.Time),
	}
}

func (s *fakeStore) EnsureEntitlement(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entitlements[userID]; !ok {
		now := time.Now()
		s.entitlements[userID] = &types.EntitlementRecord{
			UserID:    userID,
			PlanTier:  types.PlanFree,
			Status:    types.StatusInactive,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return nil
}

func (s *fakeStore) GetEntitlement(_ context.Context, userID string) (*types.EntitlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.entitlements[userID]
	if !ok {
		return nil, nil
	}
	out := *rec
	_, out.HasUsedTrial = s.trialLedger[userID]
	return &out, nil
}

func (s *fakeStore) ApplySubscription(_ context.Context, userID string, u db.SubscriptionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.entitlements[userID]
	if !ok {
		return types.NewAppError(types.ErrCodeEntitlementNotFound, "entitlement row missing", nil)
	}
	rec.PlanTier = u.PlanTier
	rec.Status = u.Status
	rec.CurrentPeriodStart = u.PeriodStart
	rec.CurrentPeriodEnd = u.PeriodEnd
	rec.TrialEndDate = u.TrialEnd
	rec.SubscriptionID = u.SubscriptionID
	rec.CustomerID = u.CustomerID
	if u.Status == types.StatusActive || u.Status == types.StatusTrialing || u.Status == types.StatusLifetime {
		rec.PaymentFailedAt = nil
	}
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) ExpireIfPast(_ context.Context, userID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.entitlements[userID]
	if !ok {
		return false, nil
	}

	past := func(t *time.Time) bool { return t != nil && !t.After(now) }
	expired := (rec.Status == types.StatusTrialing && past(rec.TrialEndDate)) ||
		((rec.Status == types.StatusActive || rec.Status == types.StatusCancelAtPeriodEnd) && past(rec.CurrentPeriodEnd))
	if !expired {
		return false, nil
	}

	rec.PlanTier = types.PlanFree
	rec.Status = types.StatusInactive
	rec.CurrentPeriodStart = nil
	rec.CurrentPeriodEnd = nil
	rec.TrialEndDate = nil
	rec.SubscriptionID = ""
	rec.UpdatedAt = now
	return true, nil
}

func (s *fakeStore) RecordPaymentFailure(_ context.Context, userID string, failedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.entitlements[userID]
	if !ok {
		return types.NewAppError(types.ErrCodeEntitlementNotFound, "entitlement row missing", nil)
	}
	rec.PaymentFailedAt = &failedAt
	return nil
}

func (s *fakeStore) OverrideEntitlement(_ context.Context, userID string, o db.AdminOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.entitlements[userID]
	if !ok {
		return types.NewAppError(types.ErrCodeEntitlementNotFound, "entitlement row missing", nil)
	}
	rec.PlanTier = o.PlanTier
	rec.Status = o.Status
	rec.CurrentPeriodEnd = o.PeriodEnd
	rec.TrialEndDate = o.TrialEnd
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) StartTrial(_ context.Context, userID string, tier types.PlanTier, trialEnd time.Time, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, used := s.trialLedger[userID]; used {
		return false, nil
	}
	rec, ok := s.entitlements[userID]
	if !ok {
		return false, types.NewAppError(types.ErrCodeEntitlementNotFound, "entitlement row missing", nil)
	}
	s.trialLedger[userID] = now
	rec.PlanTier = tier
	rec.Status = types.StatusTrialing
	rec.TrialEndDate = &trialEnd
	rec.UpdatedAt = now
	return true, nil
}

func (s *fakeStore) ResetAccount(_ context.Context, userID string, erase bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entitlements, userID)
	if erase {
		delete(s.trialLedger, userID)
	}
	return nil
}

func (s *fakeStore) MarkEventProcessed(_ context.Context, eventID, _ string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[eventID]; ok {
		return false, nil
	}
	s.processed[eventID] = now
	return true, nil
}

func (s *fakeStore) PurgeProcessedEvents(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, at := range s.processed {
		if at.Before(cutoff) {
			delete(s.processed, id)
			n++
		}
	}
	return n, nil
}

// capturingPublisher records published change events.
type capturingPublisher struct {
	mu   sync.Mutex
	msgs []types.EntitlementChanged
}

func (p *capturingPublisher) PublishChange(_ context.Context, msg types.EntitlementChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *capturingPublisher) reasons() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.Reason)
	}
	return out
}

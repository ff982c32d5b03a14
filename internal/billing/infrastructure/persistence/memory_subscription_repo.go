package persistence

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
)

// MemorySubscriptionRepository keeps subscriptions in process.
type MemorySubscriptionRepository struct {
	mu   sync.Mutex
	subs map[uuid.UUID]domain.SubscriptionSnapshot
}

// NewMemorySubscriptionRepository creates an empty repository.
func NewMemorySubscriptionRepository() *MemorySubscriptionRepository {
	return &MemorySubscriptionRepository{subs: make(map[uuid.UUID]domain.SubscriptionSnapshot)}
}

func (r *MemorySubscriptionRepository) Create(_ context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := sub.Snapshot()
	for _, s := range r.subs {
		if isLive(s.Status) && s.SubscriberID == snap.SubscriberID &&
			s.CreatorID == snap.CreatorID && s.PlanID == snap.PlanID {
			return domain.ErrAlreadySubscribed
		}
	}
	r.subs[snap.ID] = snap
	return nil
}

func (r *MemorySubscriptionRepository) FindByID(_ context.Context, id uuid.UUID) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.subs[id]
	if !ok {
		return nil, nil
	}
	return domain.RehydrateSubscription(snap)
}

func (r *MemorySubscriptionRepository) FindActiveByParty(_ context.Context, subscriberID string, plan domain.PlanKey) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if isLive(s.Status) && s.SubscriberID == subscriberID &&
			s.CreatorID == plan.CreatorID && s.PlanID == plan.PlanID {
			return domain.RehydrateSubscription(s)
		}
	}
	return nil, nil
}

func (r *MemorySubscriptionRepository) FindDueActive(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error) {
	return r.List(ctx, domain.SubscriptionFilter{
		Statuses: []domain.Status{domain.StatusActive},
		DueAt:    &now,
		Limit:    limit,
	})
}

func (r *MemorySubscriptionRepository) Update(_ context.Context, id uuid.UUID, u domain.SubscriptionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.subs[id]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	r.subs[id] = applyUpdate(snap, u)
	return nil
}

func (r *MemorySubscriptionRepository) UpdateIfStatus(_ context.Context, id uuid.UUID, expected []domain.Status, u domain.SubscriptionUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.subs[id]
	if !ok || !slices.Contains(expected, snap.Status) {
		return false, nil
	}
	r.subs[id] = applyUpdate(snap, u)
	return true, nil
}

func (r *MemorySubscriptionRepository) Count(_ context.Context, f domain.SubscriptionFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.subs {
		if matches(s, f) {
			n++
		}
	}
	return n, nil
}

func (r *MemorySubscriptionRepository) FindByPlan(ctx context.Context, plan domain.PlanKey, statuses []domain.Status) ([]*domain.Subscription, error) {
	return r.List(ctx, domain.SubscriptionFilter{
		CreatorID: plan.CreatorID,
		PlanID:    plan.PlanID,
		Statuses:  statuses,
	})
}

// List returns matches ordered by nextPayment, then id.
func (r *MemorySubscriptionRepository) List(_ context.Context, f domain.SubscriptionFilter) ([]*domain.Subscription, error) {
	r.mu.Lock()
	var snaps []domain.SubscriptionSnapshot
	for _, s := range r.subs {
		if matches(s, f) {
			snaps = append(snaps, s)
		}
	}
	r.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].NextPayment.Equal(snaps[j].NextPayment) {
			return snaps[i].NextPayment.Before(snaps[j].NextPayment)
		}
		return snaps[i].ID.String() < snaps[j].ID.String()
	})

	if f.Offset > 0 {
		if f.Offset >= len(snaps) {
			return nil, nil
		}
		snaps = snaps[f.Offset:]
	}
	if f.Limit > 0 && len(snaps) > f.Limit {
		snaps = snaps[:f.Limit]
	}

	out := make([]*domain.Subscription, 0, len(snaps))
	for _, s := range snaps {
		sub, err := domain.RehydrateSubscription(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

func isLive(s domain.Status) bool {
	return slices.Contains(domain.LiveStatuses, s)
}

func matches(s domain.SubscriptionSnapshot, f domain.SubscriptionFilter) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status) {
		return false
	}
	if f.SubscriberID != "" && s.SubscriberID != f.SubscriberID {
		return false
	}
	if f.CreatorID != "" && s.CreatorID != f.CreatorID {
		return false
	}
	if f.PlanID != 0 && s.PlanID != f.PlanID {
		return false
	}
	if f.DueAt != nil && s.NextPayment.After(*f.DueAt) {
		return false
	}
	if f.WithFailures && s.FailedPayments == 0 {
		return false
	}
	if f.CancelledSince != nil && (s.CancelledAt == nil || s.CancelledAt.Before(*f.CancelledSince)) {
		return false
	}
	return true
}

func applyUpdate(s domain.SubscriptionSnapshot, u domain.SubscriptionUpdate) domain.SubscriptionSnapshot {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.NextPayment != nil {
		s.NextPayment = u.NextPayment.UTC()
	}
	if u.LastPayment != nil {
		t := u.LastPayment.UTC()
		s.LastPayment = &t
	}
	if u.FailedPayments != nil {
		s.FailedPayments = *u.FailedPayments
	}
	if u.TotalPayments != nil {
		s.TotalPayments = *u.TotalPayments
	}
	if u.CancelledAt != nil {
		t := u.CancelledAt.UTC()
		s.CancelledAt = &t
	}
	if u.UpdatedAt.After(s.UpdatedAt) {
		s.UpdatedAt = u.UpdatedAt.UTC()
	}
	return s
}

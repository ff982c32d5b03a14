package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
)

// MemoryPlanRepository keeps plans in process. Seat changes are atomic under its mutex.
type MemoryPlanRepository struct {
	mu    sync.Mutex
	plans map[domain.PlanKey]domain.PlanSnapshot
}

// NewMemoryPlanRepository creates an empty repository.
func NewMemoryPlanRepository() *MemoryPlanRepository {
	return &MemoryPlanRepository{plans: make(map[domain.PlanKey]domain.PlanSnapshot)}
}

func (r *MemoryPlanRepository) Create(_ context.Context, plan *domain.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plans[plan.Key()]; ok {
		return domain.ErrPlanExists
	}
	r.plans[plan.Key()] = plan.Snapshot()
	return nil
}

// Save overwrites the plan's terms and flags. The seat counter is owned by
// ReserveSeat and ReleaseSeat and is never overwritten here.
func (r *MemoryPlanRepository) Save(_ context.Context, plan *domain.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.plans[plan.Key()]
	if !ok {
		return domain.ErrPlanNotFound
	}
	snap := plan.Snapshot()
	snap.CurrentSubscribers = cur.CurrentSubscribers
	r.plans[plan.Key()] = snap
	return nil
}

func (r *MemoryPlanRepository) Get(_ context.Context, key domain.PlanKey) (*domain.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.plans[key]
	if !ok {
		return nil, nil
	}
	return domain.RehydratePlan(snap)
}

func (r *MemoryPlanRepository) ListByCreator(_ context.Context, creatorID string) ([]*domain.Plan, error) {
	return r.list(func(s domain.PlanSnapshot) bool { return s.CreatorID == creatorID })
}

func (r *MemoryPlanRepository) ListInactive(_ context.Context) ([]*domain.Plan, error) {
	return r.list(func(s domain.PlanSnapshot) bool { return !s.Active })
}

func (r *MemoryPlanRepository) list(match func(domain.PlanSnapshot) bool) ([]*domain.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Plan
	for _, snap := range r.plans {
		if !match(snap) {
			continue
		}
		p, err := domain.RehydratePlan(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatorID() != out[j].CreatorID() {
			return out[i].CreatorID() < out[j].CreatorID()
		}
		return out[i].PlanID() < out[j].PlanID()
	})
	return out, nil
}

func (r *MemoryPlanRepository) ReserveSeat(_ context.Context, key domain.PlanKey) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.plans[key]
	if !ok || !snap.Active || snap.Paused {
		return false, nil
	}
	if snap.MaxSubscribers > 0 && snap.CurrentSubscribers >= snap.MaxSubscribers {
		return false, nil
	}
	snap.CurrentSubscribers++
	r.plans[key] = snap
	return true, nil
}

func (r *MemoryPlanRepository) ReleaseSeat(_ context.Context, key domain.PlanKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.plans[key]
	if !ok {
		return domain.ErrPlanNotFound
	}
	if snap.CurrentSubscribers > 0 {
		snap.CurrentSubscribers--
		r.plans[key] = snap
	}
	return nil
}

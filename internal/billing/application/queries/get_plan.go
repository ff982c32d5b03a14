package queries

import (
	"context"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
)

// GetPlanQuery identifies one plan.
type GetPlanQuery struct {
	CreatorID string
	PlanID    int64
}

// GetPlanHandler handles the GetPlanQuery.
type GetPlanHandler struct {
	plans domain.PlanRepository
}

// NewGetPlanHandler creates a new GetPlanHandler.
func NewGetPlanHandler(plans domain.PlanRepository) *GetPlanHandler {
	return &GetPlanHandler{plans: plans}
}

// Handle executes the GetPlanQuery.
func (h *GetPlanHandler) Handle(ctx context.Context, q GetPlanQuery) (*PlanDTO, error) {
	plan, err := h.plans.Get(ctx, domain.PlanKey{CreatorID: q.CreatorID, PlanID: q.PlanID})
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}
	dto := NewPlanDTO(plan)
	return &dto, nil
}

// ListPlansQuery selects a creator's plans.
type ListPlansQuery struct {
	CreatorID  string
	ActiveOnly bool
}

// ListPlansHandler handles the ListPlansQuery.
type ListPlansHandler struct {
	plans domain.PlanRepository
}

// NewListPlansHandler creates a new ListPlansHandler.
func NewListPlansHandler(plans domain.PlanRepository) *ListPlansHandler {
	return &ListPlansHandler{plans: plans}
}

// Handle executes the ListPlansQuery.
func (h *ListPlansHandler) Handle(ctx context.Context, q ListPlansQuery) ([]PlanDTO, error) {
	plans, err := h.plans.ListByCreator(ctx, q.CreatorID)
	if err != nil {
		return nil, err
	}
	dtos := make([]PlanDTO, 0, len(plans))
	for _, p := range plans {
		if q.ActiveOnly && !p.IsActive() {
			continue
		}
		dtos = append(dtos, NewPlanDTO(p))
	}
	return dtos, nil
}

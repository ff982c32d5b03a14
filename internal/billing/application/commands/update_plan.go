package commands

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	sharedApplication "github.com/felixgeelhaar/circulum/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// UpdatePlanCommand changes plan terms. Nil fields are left as they are.
type UpdatePlanCommand struct {
	CallerID        string
	CreatorID       string
	PlanID          int64
	Price           *int64
	IntervalSeconds *int64
	MaxSubscribers  *int
	MetadataURI     *string
}

// UpdatePlanHandler handles the UpdatePlanCommand.
type UpdatePlanHandler struct {
	plans  domain.PlanRepository
	events domain.EventPublisher
	uow    sharedApplication.UnitOfWork
	now    sharedDomain.Clock
	logger *slog.Logger
}

// NewUpdatePlanHandler creates a new UpdatePlanHandler.
func NewUpdatePlanHandler(plans domain.PlanRepository, events domain.EventPublisher, uow sharedApplication.UnitOfWork, logger *slog.Logger) *UpdatePlanHandler {
	return &UpdatePlanHandler{
		plans:  plans,
		events: events,
		uow:    uow,
		now:    sharedDomain.SystemClock,
		logger: observability.OrDefault(logger),
	}
}

// WithClock replaces the wall clock.
func (h *UpdatePlanHandler) WithClock(clock sharedDomain.Clock) *UpdatePlanHandler {
	h.now = clock
	return h
}

// Handle executes the UpdatePlanCommand.
func (h *UpdatePlanHandler) Handle(ctx context.Context, cmd UpdatePlanCommand) (*domain.Plan, error) {
	changes := domain.PlanChanges{
		Price:           cmd.Price,
		IntervalSeconds: cmd.IntervalSeconds,
		MaxSubscribers:  cmd.MaxSubscribers,
		MetadataURI:     cmd.MetadataURI,
	}

	var plan *domain.Plan
	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		var err error
		plan, err = h.plans.Get(txCtx, domain.PlanKey{CreatorID: cmd.CreatorID, PlanID: cmd.PlanID})
		if err != nil {
			return err
		}
		if plan == nil {
			return domain.ErrPlanNotFound
		}
		if changes.IsEmpty() {
			return nil
		}
		if err := plan.Update(cmd.CallerID, changes, h.now()); err != nil {
			return err
		}
		return h.plans.Save(txCtx, plan)
	})
	if err != nil {
		return nil, err
	}

	publishCommitted(ctx, h.events, h.logger, plan.PullDomainEvents())
	return plan, nil
}

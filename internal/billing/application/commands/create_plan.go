package commands

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	sharedApplication "github.com/felixgeelhaar/circulum/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// CreatePlanCommand contains the data needed to create a plan.
type CreatePlanCommand struct {
	CreatorID       string
	PlanID          int64
	Price           int64
	IntervalSeconds int64
	MaxSubscribers  int
	MetadataURI     string
}

// CreatePlanHandler handles the CreatePlanCommand.
type CreatePlanHandler struct {
	plans  domain.PlanRepository
	events domain.EventPublisher
	uow    sharedApplication.UnitOfWork
	now    sharedDomain.Clock
	logger *slog.Logger
}

// NewCreatePlanHandler creates a new CreatePlanHandler.
func NewCreatePlanHandler(plans domain.PlanRepository, events domain.EventPublisher, uow sharedApplication.UnitOfWork, logger *slog.Logger) *CreatePlanHandler {
	return &CreatePlanHandler{
		plans:  plans,
		events: events,
		uow:    uow,
		now:    sharedDomain.SystemClock,
		logger: observability.OrDefault(logger),
	}
}

// WithClock replaces the wall clock.
func (h *CreatePlanHandler) WithClock(clock sharedDomain.Clock) *CreatePlanHandler {
	h.now = clock
	return h
}

// Handle executes the CreatePlanCommand.
func (h *CreatePlanHandler) Handle(ctx context.Context, cmd CreatePlanCommand) (*domain.Plan, error) {
	plan, err := domain.NewPlan(domain.NewPlanParams{
		CreatorID:       cmd.CreatorID,
		PlanID:          cmd.PlanID,
		Price:           cmd.Price,
		IntervalSeconds: cmd.IntervalSeconds,
		MaxSubscribers:  cmd.MaxSubscribers,
		MetadataURI:     cmd.MetadataURI,
	}, h.now())
	if err != nil {
		return nil, err
	}

	err = sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		return h.plans.Create(txCtx, plan)
	})
	if err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "plan created", "plan", plan.Key().String(), "price", plan.Price())
	publishCommitted(ctx, h.events, h.logger, plan.PullDomainEvents())
	return plan, nil
}

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	sharedApplication "github.com/felixgeelhaar/circulum/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// PlanAction is a creator-initiated state change.
type PlanAction string

const (
	PlanActionPause      PlanAction = "pause"
	PlanActionUnpause    PlanAction = "unpause"
	PlanActionDeactivate PlanAction = "deactivate"
)

// ChangePlanStateCommand pauses, unpauses or deactivates a plan.
type ChangePlanStateCommand struct {
	CallerID  string
	CreatorID string
	PlanID    int64
	Action    PlanAction
}

// ChangePlanStateHandler handles the ChangePlanStateCommand.
type ChangePlanStateHandler struct {
	plans  domain.PlanRepository
	events domain.EventPublisher
	uow    sharedApplication.UnitOfWork
	now    sharedDomain.Clock
	logger *slog.Logger
}

// NewChangePlanStateHandler creates a new ChangePlanStateHandler.
func NewChangePlanStateHandler(plans domain.PlanRepository, events domain.EventPublisher, uow sharedApplication.UnitOfWork, logger *slog.Logger) *ChangePlanStateHandler {
	return &ChangePlanStateHandler{
		plans:  plans,
		events: events,
		uow:    uow,
		now:    sharedDomain.SystemClock,
		logger: observability.OrDefault(logger),
	}
}

// WithClock replaces the wall clock.
func (h *ChangePlanStateHandler) WithClock(clock sharedDomain.Clock) *ChangePlanStateHandler {
	h.now = clock
	return h
}

// Handle executes the ChangePlanStateCommand. Deactivation leaves live
// subscriptions to expire in the next maintenance run.
func (h *ChangePlanStateHandler) Handle(ctx context.Context, cmd ChangePlanStateCommand) (*domain.Plan, error) {
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

		now := h.now()
		switch cmd.Action {
		case PlanActionPause:
			err = plan.Pause(cmd.CallerID, now)
		case PlanActionUnpause:
			err = plan.Unpause(cmd.CallerID, now)
		case PlanActionDeactivate:
			err = plan.Deactivate(cmd.CallerID, now)
		default:
			err = fmt.Errorf("unknown plan action %q", cmd.Action)
		}
		if err != nil {
			return err
		}
		return h.plans.Save(txCtx, plan)
	})
	if err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "plan state changed", "plan", plan.Key().String(), "action", string(cmd.Action))
	publishCommitted(ctx, h.events, h.logger, plan.PullDomainEvents())
	return plan, nil
}

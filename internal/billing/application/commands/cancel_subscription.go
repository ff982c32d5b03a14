package commands

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	sharedApplication "github.com/felixgeelhaar/circulum/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// CancelSubscriptionCommand ends a subscription on the subscriber's behalf.
type CancelSubscriptionCommand struct {
	SubscriptionID uuid.UUID
	SubscriberID   string
}

// CancelSubscriptionHandler handles the CancelSubscriptionCommand.
type CancelSubscriptionHandler struct {
	subs   domain.SubscriptionRepository
	plans  domain.PlanRepository
	events domain.EventPublisher
	uow    sharedApplication.UnitOfWork
	now    sharedDomain.Clock
	logger *slog.Logger
}

// NewCancelSubscriptionHandler creates a new CancelSubscriptionHandler.
func NewCancelSubscriptionHandler(subs domain.SubscriptionRepository, plans domain.PlanRepository, events domain.EventPublisher, uow sharedApplication.UnitOfWork, logger *slog.Logger) *CancelSubscriptionHandler {
	return &CancelSubscriptionHandler{
		subs:   subs,
		plans:  plans,
		events: events,
		uow:    uow,
		now:    sharedDomain.SystemClock,
		logger: observability.OrDefault(logger),
	}
}

// WithClock replaces the wall clock.
func (h *CancelSubscriptionHandler) WithClock(clock sharedDomain.Clock) *CancelSubscriptionHandler {
	h.now = clock
	return h
}

// Handle executes the CancelSubscriptionCommand. The write only lands while
// the stored status is still active or paused, so it cannot resurrect or
// double-cancel a subscription the processor ended concurrently.
func (h *CancelSubscriptionHandler) Handle(ctx context.Context, cmd CancelSubscriptionCommand) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		var err error
		sub, err = h.subs.FindByID(txCtx, cmd.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrSubscriptionNotFound
		}

		upd, err := sub.Cancel(cmd.SubscriberID, h.now())
		if err != nil {
			return err
		}
		ok, err := h.subs.UpdateIfStatus(txCtx, sub.ID(), domain.LiveStatuses, upd)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrSubscriptionNotActive
		}
		return h.plans.ReleaseSeat(txCtx, sub.Plan())
	})
	if err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "subscription cancelled", "subscription_id", sub.ID(), "reason", domain.ReasonSubscriberRequest)
	publishCommitted(ctx, h.events, h.logger, sub.PullDomainEvents())
	return sub, nil
}

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	sharedApplication "github.com/felixgeelhaar/circulum/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// SubscriptionAction is a subscriber-initiated pause or resume.
type SubscriptionAction string

const (
	SubscriptionActionPause  SubscriptionAction = "pause"
	SubscriptionActionResume SubscriptionAction = "resume"
)

// ChangeSubscriptionStateCommand pauses or resumes a subscription.
type ChangeSubscriptionStateCommand struct {
	SubscriptionID uuid.UUID
	SubscriberID   string
	Action         SubscriptionAction
}

// ChangeSubscriptionStateHandler handles the ChangeSubscriptionStateCommand.
type ChangeSubscriptionStateHandler struct {
	subs   domain.SubscriptionRepository
	events domain.EventPublisher
	uow    sharedApplication.UnitOfWork
	now    sharedDomain.Clock
	logger *slog.Logger
}

// NewChangeSubscriptionStateHandler creates a new ChangeSubscriptionStateHandler.
func NewChangeSubscriptionStateHandler(subs domain.SubscriptionRepository, events domain.EventPublisher, uow sharedApplication.UnitOfWork, logger *slog.Logger) *ChangeSubscriptionStateHandler {
	return &ChangeSubscriptionStateHandler{
		subs:   subs,
		events: events,
		uow:    uow,
		now:    sharedDomain.SystemClock,
		logger: observability.OrDefault(logger),
	}
}

// WithClock replaces the wall clock.
func (h *ChangeSubscriptionStateHandler) WithClock(clock sharedDomain.Clock) *ChangeSubscriptionStateHandler {
	h.now = clock
	return h
}

// Handle executes the ChangeSubscriptionStateCommand.
func (h *ChangeSubscriptionStateHandler) Handle(ctx context.Context, cmd ChangeSubscriptionStateCommand) (*domain.Subscription, error) {
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

		var (
			upd      domain.SubscriptionUpdate
			expected domain.Status
			lost     error
		)
		switch cmd.Action {
		case SubscriptionActionPause:
			upd, err = sub.Pause(cmd.SubscriberID, h.now())
			expected, lost = domain.StatusActive, domain.ErrSubscriptionNotActive
		case SubscriptionActionResume:
			upd, err = sub.Resume(cmd.SubscriberID, h.now())
			expected, lost = domain.StatusPaused, domain.ErrSubscriptionNotPaused
		default:
			return fmt.Errorf("unknown subscription action %q", cmd.Action)
		}
		if err != nil {
			return err
		}

		ok, err := h.subs.UpdateIfStatus(txCtx, sub.ID(), []domain.Status{expected}, upd)
		if err != nil {
			return err
		}
		if !ok {
			return lost
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	publishCommitted(ctx, h.events, h.logger, sub.PullDomainEvents())
	return sub, nil
}

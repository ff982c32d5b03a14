package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	sharedApplication "github.com/felixgeelhaar/circulum/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// SubscribeCommand joins a subscriber to a plan.
type SubscribeCommand struct {
	SubscriberID string
	CreatorID    string
	PlanID       int64
}

// SubscribeHandler handles the SubscribeCommand. The first period is
// charged before the subscription exists, so the live-subscription check,
// the charge and the insert run under a per-party lock.
type SubscribeHandler struct {
	subs    domain.SubscriptionRepository
	plans   domain.PlanRepository
	gateway domain.SettlementGateway
	events  domain.EventPublisher
	uow     sharedApplication.UnitOfWork
	timeout time.Duration
	now     sharedDomain.Clock
	logger  *slog.Logger
	metrics observability.Metrics
	parties partyLocks
}

// NewSubscribeHandler creates a new SubscribeHandler. timeout bounds the
// initial charge, as it bounds every settlement.
func NewSubscribeHandler(
	subs domain.SubscriptionRepository,
	plans domain.PlanRepository,
	gateway domain.SettlementGateway,
	events domain.EventPublisher,
	uow sharedApplication.UnitOfWork,
	timeout time.Duration,
	logger *slog.Logger,
) *SubscribeHandler {
	return &SubscribeHandler{
		subs:    subs,
		plans:   plans,
		gateway: gateway,
		events:  events,
		uow:     uow,
		timeout: timeout,
		now:     sharedDomain.SystemClock,
		logger:  observability.OrDefault(logger),
		metrics: observability.NoopMetrics{},
	}
}

// WithMetrics sets the metrics sink.
func (h *SubscribeHandler) WithMetrics(m observability.Metrics) *SubscribeHandler {
	if m != nil {
		h.metrics = m
	}
	return h
}

// WithClock replaces the wall clock.
func (h *SubscribeHandler) WithClock(clock sharedDomain.Clock) *SubscribeHandler {
	h.now = clock
	return h
}

// Handle executes the SubscribeCommand.
func (h *SubscribeHandler) Handle(ctx context.Context, cmd SubscribeCommand) (*domain.Subscription, error) {
	if cmd.SubscriberID == "" {
		return nil, domain.ErrEmptySubscriber
	}
	key := domain.PlanKey{CreatorID: cmd.CreatorID, PlanID: cmd.PlanID}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	unlock := h.parties.lock(cmd.SubscriberID + "|" + key.String())
	defer unlock()

	var (
		sub        *domain.Subscription
		unresolved *domain.PaymentUnresolved
	)
	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		plan, err := h.plans.Get(txCtx, key)
		if err != nil {
			return err
		}
		if plan == nil {
			return domain.ErrPlanNotFound
		}
		if err := plan.AcceptsSubscribers(); err != nil {
			return err
		}
		if cmd.SubscriberID == plan.CreatorID() {
			return domain.ErrSelfSubscription
		}

		existing, err := h.subs.FindActiveByParty(txCtx, cmd.SubscriberID, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrAlreadySubscribed
		}

		reserved, err := h.plans.ReserveSeat(txCtx, key)
		if err != nil {
			return err
		}
		if !reserved {
			return domain.ErrPlanFull
		}

		// The seat UPDATE holds the plan row until commit, so this read is
		// authoritative against subscribes from other processes.
		existing, err = h.subs.FindActiveByParty(txCtx, cmd.SubscriberID, key)
		if err != nil {
			h.release(txCtx, key)
			return err
		}
		if existing != nil {
			h.release(txCtx, key)
			return domain.ErrAlreadySubscribed
		}

		now := h.now()
		ref, err := h.charge(txCtx, cmd.SubscriberID, plan, now)
		if err != nil {
			h.release(txCtx, key)
			return fmt.Errorf("%w: %w", domain.ErrInitialPaymentFailed, err)
		}

		sub, err = domain.NewSubscription(cmd.SubscriberID, plan, ref, now)
		if err != nil {
			h.release(txCtx, key)
			return err
		}
		if err := h.subs.Create(txCtx, sub); err != nil {
			h.release(txCtx, key)
			h.logger.ErrorContext(txCtx, "unresolved settlement state",
				"reference", ref,
				"amount", plan.Price(),
				"payer", cmd.SubscriberID,
				"payee", plan.CreatorID(),
				"plan", key.String(),
				"error", err,
			)
			unresolved = domain.NewPaymentUnresolved(sub, ref, plan.Price(), err, now)
			return err
		}
		return nil
	})
	if unresolved != nil {
		// Funds moved but nothing was stored; the rollback must not hide it.
		h.metrics.Counter(observability.MetricPaymentsUnresolved, 1)
		publishCommitted(ctx, h.events, h.logger, []sharedDomain.DomainEvent{unresolved})
	}
	if err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "subscription created",
		"subscription_id", sub.ID(),
		"plan", key.String(),
		"next_payment", sub.NextPayment(),
	)
	publishCommitted(ctx, h.events, h.logger, sub.PullDomainEvents())
	return sub, nil
}

func (h *SubscribeHandler) charge(ctx context.Context, subscriberID string, plan *domain.Plan, now time.Time) (domain.SettlementReference, error) {
	callCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	return h.gateway.Settle(callCtx, domain.SettlementRequest{
		PayerID:        subscriberID,
		PayeeID:        plan.CreatorID(),
		Amount:         plan.Price(),
		IdempotencyKey: fmt.Sprintf("subscribe:%s:%s:%d", subscriberID, plan.Key(), now.Unix()),
	})
}

// release frees the seat taken for a subscribe that did not complete. Inside
// a transaction the rollback undoes it anyway.
func (h *SubscribeHandler) release(ctx context.Context, key domain.PlanKey) {
	if err := h.plans.ReleaseSeat(ctx, key); err != nil {
		h.logger.ErrorContext(ctx, "release plan seat failed", "plan", key.String(), "error", err)
	}
}

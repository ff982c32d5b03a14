package domain

import (
	"context"
	"time"

	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/google/uuid"
)

// SubscriptionFilter selects subscriptions. Zero fields do not constrain.
type SubscriptionFilter struct {
	Statuses     []Status
	SubscriberID string
	CreatorID    string
	PlanID       int64
	// DueAt matches nextPayment <= DueAt.
	DueAt *time.Time
	// WithFailures matches failedPayments > 0.
	WithFailures bool
	// CancelledSince matches cancelledAt >= CancelledSince.
	CancelledSince *time.Time
	Limit          int
	Offset         int
}

// SubscriptionRepository stores subscriptions. Lookups return (nil, nil) when
// nothing matches.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	// FindActiveByParty returns the live (active or paused) subscription for the triple.
	FindActiveByParty(ctx context.Context, subscriberID string, plan PlanKey) (*Subscription, error)
	// FindDueActive returns active subscriptions with nextPayment <= now, oldest first.
	FindDueActive(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
	// Update applies u unconditionally. It returns ErrSubscriptionNotFound for unknown ids.
	Update(ctx context.Context, id uuid.UUID, u SubscriptionUpdate) error
	// UpdateIfStatus applies u only while the stored status is one of expected.
	UpdateIfStatus(ctx context.Context, id uuid.UUID, expected []Status, u SubscriptionUpdate) (bool, error)
	Count(ctx context.Context, filter SubscriptionFilter) (int, error)
	FindByPlan(ctx context.Context, plan PlanKey, statuses []Status) ([]*Subscription, error)
	List(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error)
}

// PlanRepository stores plans. Lookups return (nil, nil) when nothing matches.
type PlanRepository interface {
	// Create inserts a new plan; duplicates fail with ErrPlanExists.
	Create(ctx context.Context, plan *Plan) error
	Save(ctx context.Context, plan *Plan) error
	Get(ctx context.Context, key PlanKey) (*Plan, error)
	ListByCreator(ctx context.Context, creatorID string) ([]*Plan, error)
	ListInactive(ctx context.Context) ([]*Plan, error)
	// ReserveSeat atomically takes a seat on an active, unpaused plan with capacity.
	ReserveSeat(ctx context.Context, key PlanKey) (bool, error)
	// ReleaseSeat atomically frees a seat, never going below zero.
	ReleaseSeat(ctx context.Context, key PlanKey) error
}

// EventPublisher hands domain events to the notification subsystem.
type EventPublisher interface {
	Publish(ctx context.Context, events ...sharedDomain.DomainEvent) error
}

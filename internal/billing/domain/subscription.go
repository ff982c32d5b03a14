package domain

import (
	"fmt"
	"strings"
	"time"

	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// LiveStatuses are the statuses that hold a plan seat.
var LiveStatuses = []Status{StatusActive, StatusPaused}

// SubscriptionUpdate is a partial update applied atomically by the store.
// Nil fields are left untouched.
type SubscriptionUpdate struct {
	Status         *Status
	NextPayment    *time.Time
	LastPayment    *time.Time
	FailedPayments *int
	TotalPayments  *int64
	CancelledAt    *time.Time
	UpdatedAt      time.Time
}

// IsEmpty reports whether the update changes nothing but UpdatedAt.
func (u SubscriptionUpdate) IsEmpty() bool {
	return u.Status == nil && u.NextPayment == nil && u.LastPayment == nil &&
		u.FailedPayments == nil && u.TotalPayments == nil && u.CancelledAt == nil
}

// Subscription is a subscriber's recurring agreement with a plan.
type Subscription struct {
	sharedDomain.BaseAggregateRoot
	subscriberID   string
	plan           PlanKey
	status         Status
	nextPayment    time.Time
	lastPayment    *time.Time
	failedPayments int
	totalPayments  int64
	cancelledAt    *time.Time
}

// NewSubscription opens a subscription whose first period was charged at
// `at` with the given settlement reference.
func NewSubscription(subscriberID string, plan *Plan, ref SettlementReference, at time.Time) (*Subscription, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return nil, ErrEmptySubscriber
	}
	if subscriberID == plan.CreatorID() {
		return nil, ErrSelfSubscription
	}

	at = at.UTC()
	s := &Subscription{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(at),
		subscriberID:      subscriberID,
		plan:              plan.Key(),
		status:            StatusActive,
		nextPayment:       at.Add(plan.Interval()),
		lastPayment:       &at,
		totalPayments:     1,
	}
	s.AddDomainEvent(NewSubscriptionCreated(s, plan.Price(), at))
	s.AddDomainEvent(NewPaymentProcessed(s, ref, plan.Price(), at))
	return s, nil
}

// SubscriptionSnapshot is the persisted form of a subscription.
type SubscriptionSnapshot struct {
	ID             uuid.UUID
	SubscriberID   string
	CreatorID      string
	PlanID         int64
	Status         Status
	NextPayment    time.Time
	LastPayment    *time.Time
	FailedPayments int
	TotalPayments  int64
	CancelledAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RehydrateSubscription rebuilds a subscription from storage.
func RehydrateSubscription(s SubscriptionSnapshot) (*Subscription, error) {
	if !s.Status.IsValid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidSubscriptionRow, s.Status)
	}
	if s.FailedPayments < 0 || s.TotalPayments < 0 {
		return nil, fmt.Errorf("%w: negative counters", ErrInvalidSubscriptionRow)
	}
	return &Subscription{
		BaseAggregateRoot: sharedDomain.RehydrateBaseAggregateRoot(
			sharedDomain.RehydrateBaseEntity(s.ID, s.CreatedAt, s.UpdatedAt),
		),
		subscriberID:   s.SubscriberID,
		plan:           PlanKey{CreatorID: s.CreatorID, PlanID: s.PlanID},
		status:         s.Status,
		nextPayment:    s.NextPayment.UTC(),
		lastPayment:    utcPtr(s.LastPayment),
		failedPayments: s.FailedPayments,
		totalPayments:  s.TotalPayments,
		cancelledAt:    utcPtr(s.CancelledAt),
	}, nil
}

// Snapshot returns the persisted form.
func (s *Subscription) Snapshot() SubscriptionSnapshot {
	return SubscriptionSnapshot{
		ID:             s.ID(),
		SubscriberID:   s.subscriberID,
		CreatorID:      s.plan.CreatorID,
		PlanID:         s.plan.PlanID,
		Status:         s.status,
		NextPayment:    s.nextPayment,
		LastPayment:    s.lastPayment,
		FailedPayments: s.failedPayments,
		TotalPayments:  s.totalPayments,
		CancelledAt:    s.cancelledAt,
		CreatedAt:      s.CreatedAt(),
		UpdatedAt:      s.UpdatedAt(),
	}
}

func (s *Subscription) SubscriberID() string    { return s.subscriberID }
func (s *Subscription) Plan() PlanKey           { return s.plan }
func (s *Subscription) Status() Status          { return s.status }
func (s *Subscription) NextPayment() time.Time  { return s.nextPayment }
func (s *Subscription) LastPayment() *time.Time { return s.lastPayment }
func (s *Subscription) FailedPayments() int     { return s.failedPayments }
func (s *Subscription) TotalPayments() int64    { return s.totalPayments }
func (s *Subscription) CancelledAt() *time.Time { return s.cancelledAt }

// IsDue reports whether the subscription owes a payment at now.
func (s *Subscription) IsDue(now time.Time) bool {
	return s.status == StatusActive && !s.nextPayment.After(now)
}

// IdempotencyKey identifies the charge for the current period. Retries of
// the same period reuse it; the next period gets a new one.
func (s *Subscription) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", s.ID(), s.nextPayment.Unix())
}

// Apply copies an update onto the in-memory subscription.
func (s *Subscription) Apply(u SubscriptionUpdate) {
	if u.Status != nil {
		s.status = *u.Status
	}
	if u.NextPayment != nil {
		s.nextPayment = u.NextPayment.UTC()
	}
	if u.LastPayment != nil {
		s.lastPayment = utcPtr(u.LastPayment)
	}
	if u.FailedPayments != nil {
		s.failedPayments = *u.FailedPayments
	}
	if u.TotalPayments != nil {
		s.totalPayments = *u.TotalPayments
	}
	if u.CancelledAt != nil {
		s.cancelledAt = utcPtr(u.CancelledAt)
	}
	s.Touch(u.UpdatedAt)
}

// advance returns candidate, or the current nextPayment if that is later.
func (s *Subscription) advance(candidate time.Time) time.Time {
	if candidate.Before(s.nextPayment) {
		return s.nextPayment
	}
	return candidate
}

// RecordSettlement marks the current period as paid. Status is not part of
// the update and is left as whatever the store holds.
func (s *Subscription) RecordSettlement(plan *Plan, ref SettlementReference, at time.Time) SubscriptionUpdate {
	at = at.UTC()
	next := s.advance(at.Add(plan.Interval()))
	failed := 0
	total := s.totalPayments + 1

	u := SubscriptionUpdate{
		NextPayment:    &next,
		LastPayment:    &at,
		FailedPayments: &failed,
		TotalPayments:  &total,
		UpdatedAt:      at,
	}
	s.Apply(u)
	s.AddDomainEvent(NewPaymentProcessed(s, ref, plan.Price(), at))
	return u
}

// RecordFailure counts a failed collection. At threshold the subscription is
// cancelled and cancelled is true; otherwise the next attempt moves out by grace.
func (s *Subscription) RecordFailure(grace time.Duration, threshold int, cause error, at time.Time) (u SubscriptionUpdate, cancelled bool) {
	at = at.UTC()
	failed := s.failedPayments + 1
	var errMsg string
	if cause != nil {
		errMsg = cause.Error()
	}

	if failed >= threshold {
		status := StatusCancelled
		u = SubscriptionUpdate{
			Status:         &status,
			FailedPayments: &failed,
			CancelledAt:    &at,
			UpdatedAt:      at,
		}
		s.Apply(u)
		s.AddDomainEvent(NewSubscriptionCancelled(s, ReasonPaymentFailures, at))
		return u, true
	}

	next := s.advance(at.Add(grace))
	u = SubscriptionUpdate{
		NextPayment:    &next,
		FailedPayments: &failed,
		UpdatedAt:      at,
	}
	s.Apply(u)
	s.AddDomainEvent(NewPaymentFailed(s, ReasonGatewayFailure, errMsg, at))
	return u, false
}

// DeferPayment pushes the next attempt out by grace without counting a
// failure. It is used when the plan cannot be billed.
func (s *Subscription) DeferPayment(reason string, grace time.Duration, at time.Time) SubscriptionUpdate {
	at = at.UTC()
	next := s.advance(at.Add(grace))
	u := SubscriptionUpdate{NextPayment: &next, UpdatedAt: at}
	s.Apply(u)
	s.AddDomainEvent(NewPaymentFailed(s, reason, "", at))
	return u
}

func (s *Subscription) authorize(subscriberID string) error {
	if subscriberID != s.subscriberID {
		return ErrNotSubscriptionOwner
	}
	return nil
}

// Cancel ends the subscription at the subscriber's request.
func (s *Subscription) Cancel(subscriberID string, at time.Time) (SubscriptionUpdate, error) {
	if err := s.authorize(subscriberID); err != nil {
		return SubscriptionUpdate{}, err
	}
	if s.status.IsTerminal() {
		return SubscriptionUpdate{}, ErrSubscriptionNotActive
	}
	at = at.UTC()
	status := StatusCancelled
	u := SubscriptionUpdate{Status: &status, CancelledAt: &at, UpdatedAt: at}
	s.Apply(u)
	s.AddDomainEvent(NewSubscriptionCancelled(s, ReasonSubscriberRequest, at))
	return u, nil
}

// Pause suspends billing.
func (s *Subscription) Pause(subscriberID string, at time.Time) (SubscriptionUpdate, error) {
	if err := s.authorize(subscriberID); err != nil {
		return SubscriptionUpdate{}, err
	}
	if s.status != StatusActive {
		return SubscriptionUpdate{}, ErrSubscriptionNotActive
	}
	status := StatusPaused
	u := SubscriptionUpdate{Status: &status, UpdatedAt: at.UTC()}
	s.Apply(u)
	s.AddDomainEvent(NewSubscriptionLifecycle(s, RoutingKeySubscriptionPaused, "", at))
	return u, nil
}

// Resume reactivates a paused subscription. nextPayment is kept, so an
// overdue subscription is billed on the next cycle.
func (s *Subscription) Resume(subscriberID string, at time.Time) (SubscriptionUpdate, error) {
	if err := s.authorize(subscriberID); err != nil {
		return SubscriptionUpdate{}, err
	}
	if s.status != StatusPaused {
		return SubscriptionUpdate{}, ErrSubscriptionNotPaused
	}
	status := StatusActive
	u := SubscriptionUpdate{Status: &status, UpdatedAt: at.UTC()}
	s.Apply(u)
	s.AddDomainEvent(NewSubscriptionLifecycle(s, RoutingKeySubscriptionResumed, "", at))
	return u, nil
}

// Expire ends a live subscription whose plan was deactivated.
func (s *Subscription) Expire(at time.Time) (SubscriptionUpdate, error) {
	if s.status.IsTerminal() {
		return SubscriptionUpdate{}, ErrSubscriptionNotActive
	}
	status := StatusExpired
	u := SubscriptionUpdate{Status: &status, UpdatedAt: at.UTC()}
	s.Apply(u)
	s.AddDomainEvent(NewSubscriptionLifecycle(s, RoutingKeySubscriptionExpired, ReasonPlanDeactivated, at))
	return u, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

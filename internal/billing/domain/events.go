package domain

import (
	"time"

	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
)

const (
	planAggregate         = "Plan"
	subscriptionAggregate = "Subscription"
)

// Routing keys, which are also the public webhook event types.
const (
	RoutingKeyPlanCreated     = "plan.created"
	RoutingKeyPlanUpdated     = "plan.updated"
	RoutingKeyPlanPaused      = "plan.paused"
	RoutingKeyPlanUnpaused    = "plan.unpaused"
	RoutingKeyPlanDeactivated = "plan.deactivated"

	RoutingKeySubscriptionCreated   = "subscription.created"
	RoutingKeySubscriptionPaused    = "subscription.paused"
	RoutingKeySubscriptionResumed   = "subscription.resumed"
	RoutingKeySubscriptionCancelled = "subscription.cancelled"
	RoutingKeySubscriptionExpired   = "subscription.expired"

	RoutingKeyPaymentProcessed  = "payment.processed"
	RoutingKeyPaymentFailed     = "payment.failed"
	RoutingKeyPaymentUnresolved = "payment.unresolved"
)

// EventTypes lists every routing key billing emits.
var EventTypes = []string{
	RoutingKeyPlanCreated, RoutingKeyPlanUpdated, RoutingKeyPlanPaused,
	RoutingKeyPlanUnpaused, RoutingKeyPlanDeactivated,
	RoutingKeySubscriptionCreated, RoutingKeySubscriptionPaused, RoutingKeySubscriptionResumed,
	RoutingKeySubscriptionCancelled, RoutingKeySubscriptionExpired,
	RoutingKeyPaymentProcessed, RoutingKeyPaymentFailed, RoutingKeyPaymentUnresolved,
}

// Reasons carried on failure and termination events.
const (
	ReasonGatewayFailure    = "gateway_failure"
	ReasonPlanInactive      = "plan_inactive"
	ReasonPlanPaused        = "plan_paused"
	ReasonPaymentFailures   = "payment_failures"
	ReasonSubscriberRequest = "subscriber_request"
	ReasonPlanDeactivated   = "plan_deactivated"
)

// PlanCreated is emitted when a plan is created.
type PlanCreated struct {
	sharedDomain.BaseEvent
	CreatorID       string `json:"creator_id"`
	PlanID          int64  `json:"plan_id"`
	Price           int64  `json:"price"`
	IntervalSeconds int64  `json:"interval_seconds"`
	MaxSubscribers  int    `json:"max_subscribers"`
	MetadataURI     string `json:"metadata_uri,omitempty"`
}

// NewPlanCreated creates a PlanCreated event.
func NewPlanCreated(p *Plan) *PlanCreated {
	return &PlanCreated{
		BaseEvent:       sharedDomain.NewBaseEvent(p.ID(), planAggregate, RoutingKeyPlanCreated, p.CreatedAt()),
		CreatorID:       p.CreatorID(),
		PlanID:          p.PlanID(),
		Price:           p.Price(),
		IntervalSeconds: p.IntervalSeconds(),
		MaxSubscribers:  p.MaxSubscribers(),
		MetadataURI:     p.MetadataURI(),
	}
}

// PlanUpdated carries the plan terms after an update.
type PlanUpdated struct {
	sharedDomain.BaseEvent
	CreatorID       string `json:"creator_id"`
	PlanID          int64  `json:"plan_id"`
	Price           int64  `json:"price"`
	IntervalSeconds int64  `json:"interval_seconds"`
	MaxSubscribers  int    `json:"max_subscribers"`
	MetadataURI     string `json:"metadata_uri,omitempty"`
}

// NewPlanUpdated creates a PlanUpdated event.
func NewPlanUpdated(p *Plan, at time.Time) *PlanUpdated {
	return &PlanUpdated{
		BaseEvent:       sharedDomain.NewBaseEvent(p.ID(), planAggregate, RoutingKeyPlanUpdated, at),
		CreatorID:       p.CreatorID(),
		PlanID:          p.PlanID(),
		Price:           p.Price(),
		IntervalSeconds: p.IntervalSeconds(),
		MaxSubscribers:  p.MaxSubscribers(),
		MetadataURI:     p.MetadataURI(),
	}
}

// PlanStateChanged covers plan.paused, plan.unpaused and plan.deactivated.
type PlanStateChanged struct {
	sharedDomain.BaseEvent
	CreatorID string `json:"creator_id"`
	PlanID    int64  `json:"plan_id"`
}

// NewPlanStateChanged creates a PlanStateChanged event with the given routing key.
func NewPlanStateChanged(p *Plan, routingKey string, at time.Time) *PlanStateChanged {
	return &PlanStateChanged{
		BaseEvent: sharedDomain.NewBaseEvent(p.ID(), planAggregate, routingKey, at),
		CreatorID: p.CreatorID(),
		PlanID:    p.PlanID(),
	}
}

// subscriptionRef is embedded in every subscription-scoped payload.
type subscriptionRef struct {
	SubscriptionID string `json:"subscription_id"`
	SubscriberID   string `json:"subscriber_id"`
	CreatorID      string `json:"creator_id"`
	PlanID         int64  `json:"plan_id"`
}

func refOf(s *Subscription) subscriptionRef {
	return subscriptionRef{
		SubscriptionID: s.ID().String(),
		SubscriberID:   s.SubscriberID(),
		CreatorID:      s.Plan().CreatorID,
		PlanID:         s.Plan().PlanID,
	}
}

// SubscriptionCreated is emitted when a subscriber joins a plan.
type SubscriptionCreated struct {
	sharedDomain.BaseEvent
	subscriptionRef
	Price       int64 `json:"price"`
	NextPayment int64 `json:"next_payment"`
}

// NewSubscriptionCreated creates a SubscriptionCreated event.
func NewSubscriptionCreated(s *Subscription, price int64, at time.Time) *SubscriptionCreated {
	return &SubscriptionCreated{
		BaseEvent:       sharedDomain.NewBaseEvent(s.ID(), subscriptionAggregate, RoutingKeySubscriptionCreated, at),
		subscriptionRef: refOf(s),
		Price:           price,
		NextPayment:     s.NextPayment().Unix(),
	}
}

// SubscriptionLifecycle covers subscription.paused, subscription.resumed and
// subscription.expired.
type SubscriptionLifecycle struct {
	sharedDomain.BaseEvent
	subscriptionRef
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// NewSubscriptionLifecycle creates a SubscriptionLifecycle event.
func NewSubscriptionLifecycle(s *Subscription, routingKey, reason string, at time.Time) *SubscriptionLifecycle {
	return &SubscriptionLifecycle{
		BaseEvent:       sharedDomain.NewBaseEvent(s.ID(), subscriptionAggregate, routingKey, at),
		subscriptionRef: refOf(s),
		Status:          string(s.Status()),
		Reason:          reason,
	}
}

// SubscriptionCancelled is emitted for both subscriber and automatic cancellation.
type SubscriptionCancelled struct {
	sharedDomain.BaseEvent
	subscriptionRef
	Reason         string `json:"reason"`
	FailedPayments int    `json:"failed_payments"`
	TotalPayments  int64  `json:"total_payments"`
}

// NewSubscriptionCancelled creates a SubscriptionCancelled event.
func NewSubscriptionCancelled(s *Subscription, reason string, at time.Time) *SubscriptionCancelled {
	return &SubscriptionCancelled{
		BaseEvent:       sharedDomain.NewBaseEvent(s.ID(), subscriptionAggregate, RoutingKeySubscriptionCancelled, at),
		subscriptionRef: refOf(s),
		Reason:          reason,
		FailedPayments:  s.FailedPayments(),
		TotalPayments:   s.TotalPayments(),
	}
}

// PaymentProcessed is emitted after a settlement is recorded.
type PaymentProcessed struct {
	sharedDomain.BaseEvent
	subscriptionRef
	Reference     string `json:"reference"`
	Amount        int64  `json:"amount"`
	PaymentNumber int64  `json:"payment_number"`
	NextPayment   int64  `json:"next_payment"`
}

// NewPaymentProcessed creates a PaymentProcessed event.
func NewPaymentProcessed(s *Subscription, ref SettlementReference, amount int64, at time.Time) *PaymentProcessed {
	return &PaymentProcessed{
		BaseEvent:       sharedDomain.NewBaseEvent(s.ID(), subscriptionAggregate, RoutingKeyPaymentProcessed, at),
		subscriptionRef: refOf(s),
		Reference:       string(ref),
		Amount:          amount,
		PaymentNumber:   s.TotalPayments(),
		NextPayment:     s.NextPayment().Unix(),
	}
}

// PaymentFailed is emitted when a due payment could not be collected.
type PaymentFailed struct {
	sharedDomain.BaseEvent
	subscriptionRef
	Reason         string `json:"reason"`
	Error          string `json:"error,omitempty"`
	FailedPayments int    `json:"failed_payments"`
	NextPayment    int64  `json:"next_payment"`
}

// NewPaymentFailed creates a PaymentFailed event.
func NewPaymentFailed(s *Subscription, reason, errMsg string, at time.Time) *PaymentFailed {
	return &PaymentFailed{
		BaseEvent:       sharedDomain.NewBaseEvent(s.ID(), subscriptionAggregate, RoutingKeyPaymentFailed, at),
		subscriptionRef: refOf(s),
		Reason:          reason,
		Error:           errMsg,
		FailedPayments:  s.FailedPayments(),
		NextPayment:     s.NextPayment().Unix(),
	}
}

// PaymentUnresolved is emitted when funds moved but the store could not record it.
type PaymentUnresolved struct {
	sharedDomain.BaseEvent
	subscriptionRef
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Error     string `json:"error"`
}

// NewPaymentUnresolved creates a PaymentUnresolved event.
func NewPaymentUnresolved(s *Subscription, ref SettlementReference, amount int64, cause error, at time.Time) *PaymentUnresolved {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &PaymentUnresolved{
		BaseEvent:       sharedDomain.NewBaseEvent(s.ID(), subscriptionAggregate, RoutingKeyPaymentUnresolved, at),
		subscriptionRef: refOf(s),
		Reference:       string(ref),
		Amount:          amount,
		Error:           msg,
	}
}

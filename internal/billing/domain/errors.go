package domain

import "errors"

// Plan errors.
var (
	ErrPlanNotFound          = errors.New("plan not found")
	ErrPlanExists            = errors.New("plan already exists")
	ErrPlanInactive          = errors.New("plan is not active")
	ErrPlanPaused            = errors.New("plan is paused")
	ErrPlanFull              = errors.New("plan has reached its subscriber limit")
	ErrPlanAlreadyPaused     = errors.New("plan is already paused")
	ErrPlanNotPaused         = errors.New("plan is not paused")
	ErrPlanAlreadyInactive   = errors.New("plan is already inactive")
	ErrNotPlanCreator        = errors.New("caller is not the plan creator")
	ErrMaxSubscribersTooLow  = errors.New("max subscribers is below current subscriber count")
	ErrInvalidPlanID         = errors.New("plan id must be positive")
	ErrEmptyCreator          = errors.New("creator id cannot be empty")
	ErrInvalidPrice          = errors.New("price must be positive")
	ErrInvalidInterval       = errors.New("interval must be at least one second")
	ErrInvalidMaxSubscribers = errors.New("max subscribers cannot be negative")
	ErrMetadataURITooLong    = errors.New("metadata uri exceeds 200 characters")
	ErrSeatUnderflow         = errors.New("plan has no reserved seats to release")
)

// Subscription errors.
var (
	ErrSubscriptionNotFound   = errors.New("subscription not found")
	ErrAlreadySubscribed      = errors.New("subscriber already has a live subscription to this plan")
	ErrSubscriptionNotActive  = errors.New("subscription is not active")
	ErrSubscriptionNotPaused  = errors.New("subscription is not paused")
	ErrNotSubscriptionOwner   = errors.New("caller does not own the subscription")
	ErrInitialPaymentFailed   = errors.New("initial payment failed")
	ErrEmptySubscriber        = errors.New("subscriber id cannot be empty")
	ErrSelfSubscription       = errors.New("creator cannot subscribe to their own plan")
	ErrInvalidSubscriptionRow = errors.New("invalid persisted subscription")
)

// Settlement errors returned by gateways.
var (
	// ErrSettlementDeclined means the gateway refused the transfer.
	ErrSettlementDeclined = errors.New("settlement declined")
	// ErrGatewayUnavailable means the gateway could not be reached or timed out.
	ErrGatewayUnavailable = errors.New("settlement gateway unavailable")
)

package application

import (
	"github.com/google/uuid"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
)

// OutcomeKind is the terminal state of settling one subscription.
type OutcomeKind string

const (
	// OutcomeSettled means funds moved and the store recorded it.
	OutcomeSettled OutcomeKind = "settled"
	// OutcomeGraceExtended means every attempt failed and the payment was deferred.
	OutcomeGraceExtended OutcomeKind = "grace_extended"
	// OutcomeCancelled means the failure threshold was reached.
	OutcomeCancelled OutcomeKind = "cancelled"
	// OutcomePlanInactive means the plan is missing or deactivated.
	OutcomePlanInactive OutcomeKind = "plan_inactive"
	// OutcomePlanPaused means the plan is paused.
	OutcomePlanPaused OutcomeKind = "plan_paused"
	// OutcomeUnresolved means funds moved but the store write kept failing.
	OutcomeUnresolved OutcomeKind = "unresolved"
	// OutcomeSkipped means a subscriber change raced in before the failure write.
	OutcomeSkipped OutcomeKind = "skipped"
	// OutcomeInterrupted means the context ended before any attempt succeeded.
	OutcomeInterrupted OutcomeKind = "interrupted"
	// OutcomeStoreError means the plan could not be read or the failure write errored.
	OutcomeStoreError OutcomeKind = "store_error"
)

// Outcome reports what happened to one due subscription.
type Outcome struct {
	SubscriptionID uuid.UUID
	Kind           OutcomeKind
	Attempts       int
	Reference      domain.SettlementReference
	FailedPayments int
	Err            error
}

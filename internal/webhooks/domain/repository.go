package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EndpointRepository stores webhook endpoints. FindByID returns (nil, nil)
// when nothing matches.
type EndpointRepository interface {
	Create(ctx context.Context, endpoint *Endpoint) error
	FindByID(ctx context.Context, id uuid.UUID) (*Endpoint, error)
	List(ctx context.Context) ([]*Endpoint, error)
	FindActiveByEventType(ctx context.Context, eventType string) ([]*Endpoint, error)
	// RecordDeliverySuccess resets the failure count.
	RecordDeliverySuccess(ctx context.Context, id uuid.UUID, at time.Time) error
	// RecordDeliveryFailure increments the failure count and deactivates the
	// endpoint once it reaches threshold. JustDisabled is set for the one
	// call that performs the deactivation.
	RecordDeliveryFailure(ctx context.Context, id uuid.UUID, at time.Time, threshold int) (DeliveryHealth, error)
	// SetActive enables or disables an endpoint; enabling resets the failure count.
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

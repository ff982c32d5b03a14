package application

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/felixgeelhaar/circulum/internal/webhooks/domain"
)

// BusConfig tunes the event bus.
type BusConfig struct {
	// QueueCapacity bounds the pending event queue. Emit fails once it is full.
	QueueCapacity int `validate:"min=1"`
	// MaxConcurrentDeliveries bounds the fan-out of a single event.
	MaxConcurrentDeliveries int `validate:"min=1,max=1024"`
	// DrainInterval is the fallback drain period when no enqueue wakes the loop.
	DrainInterval time.Duration `validate:"gt=0"`
	// DisableThreshold is the consecutive failure count that disables an endpoint.
	DisableThreshold int `validate:"min=1"`
	// DeliveryTimeout bounds one delivery attempt.
	DeliveryTimeout time.Duration `validate:"gt=0"`
}

// DefaultBusConfig returns production defaults.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		QueueCapacity:           10_000,
		MaxConcurrentDeliveries: 16,
		DrainInterval:           5 * time.Second,
		DisableThreshold:        domain.DefaultDisableThreshold,
		DeliveryTimeout:         10 * time.Second,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field against its bounds.
func (c BusConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid bus config: %w", err)
	}
	return nil
}

package application

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ProcessorConfig tunes the payment processor.
type ProcessorConfig struct {
	// BatchSize caps how many due subscriptions one cycle settles.
	BatchSize int `validate:"min=1,max=10000"`
	// RetryAttempts is the number of gateway calls per due payment.
	RetryAttempts int `validate:"min=1,max=20"`
	// RetryBaseDelay is multiplied by 2^n after the nth failed attempt.
	RetryBaseDelay time.Duration `validate:"gt=0"`
	// RetryMaxDelay caps a single backoff wait.
	RetryMaxDelay time.Duration `validate:"gtefield=RetryBaseDelay"`
	// GracePeriod is how far a failed or deferred payment is pushed out.
	GracePeriod time.Duration `validate:"gte=1s"`
	// CancellationThreshold is the failure count that cancels a subscription.
	CancellationThreshold int `validate:"min=1"`
	// SettleSpacing separates members of a batch.
	SettleSpacing time.Duration `validate:"gte=0"`
	// SettlementTimeout bounds every gateway call.
	SettlementTimeout time.Duration `validate:"gt=0"`
	// WriteRetries is the number of store writes tried after a settlement.
	WriteRetries int `validate:"min=1,max=20"`
	// WriteRetryDelay separates those writes.
	WriteRetryDelay time.Duration `validate:"gte=0"`
}

// DefaultProcessorConfig returns production defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:             50,
		RetryAttempts:         3,
		RetryBaseDelay:        time.Second,
		RetryMaxDelay:         30 * time.Second,
		GracePeriod:           time.Hour,
		CancellationThreshold: 3,
		SettleSpacing:         200 * time.Millisecond,
		SettlementTimeout:     10 * time.Second,
		WriteRetries:          3,
		WriteRetryDelay:       500 * time.Millisecond,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field against its bounds.
func (c ProcessorConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid processor config: %w", err)
	}
	return nil
}

// RetryDelay returns the wait after the nth failed attempt: base * 2^n, capped.
func (c ProcessorConfig) RetryDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	delay := c.RetryBaseDelay
	for i := 0; i < n; i++ {
		if delay >= c.RetryMaxDelay {
			return c.RetryMaxDelay
		}
		delay *= 2
	}
	if delay > c.RetryMaxDelay {
		return c.RetryMaxDelay
	}
	return delay
}

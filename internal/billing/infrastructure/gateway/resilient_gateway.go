package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// BreakerConfig configures the circuit breaker around a gateway.
type BreakerConfig struct {
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32
	// Interval clears closed-state counts; zero never clears them.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// FailureThreshold is the consecutive failure count that opens the breaker.
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// ResilientGateway guards a gateway with a circuit breaker. Declines are
// answers from a healthy ledger and do not count toward tripping it.
type ResilientGateway struct {
	next    domain.SettlementGateway
	breaker *gobreaker.CircuitBreaker[domain.SettlementReference]
}

// NewResilientGateway wraps next. metrics receives the breaker state as a gauge.
func NewResilientGateway(next domain.SettlementGateway, cfg BreakerConfig, metrics observability.Metrics, logger *slog.Logger) *ResilientGateway {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	logger = observability.OrDefault(logger)
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = DefaultBreakerConfig().FailureThreshold
	}

	settings := gobreaker.Settings{
		Name:        "settlement-gateway",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrSettlementDeclined)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.Gauge(observability.MetricBreakerState, float64(to), observability.T("breaker", name))
		},
	}
	return &ResilientGateway{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[domain.SettlementReference](settings),
	}
}

func (g *ResilientGateway) Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementReference, error) {
	ref, err := g.breaker.Execute(func() (domain.SettlementReference, error) {
		return g.next.Settle(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}
	return ref, err
}

// State returns the breaker state: closed, half-open or open.
func (g *ResilientGateway) State() string {
	return g.breaker.State().String()
}

var _ domain.SettlementGateway = (*ResilientGateway)(nil)

package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

const tracerName = "github.com/felixgeelhaar/circulum/internal/billing/application"

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ProcessorOption customizes a PaymentProcessor.
type ProcessorOption func(*PaymentProcessor)

// WithClock replaces the wall clock.
func WithClock(clock sharedDomain.Clock) ProcessorOption {
	return func(p *PaymentProcessor) { p.now = clock }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m observability.Metrics) ProcessorOption {
	return func(p *PaymentProcessor) { p.metrics = m }
}

// WithSleeper replaces the retry wait.
func WithSleeper(s Sleeper) ProcessorOption {
	return func(p *PaymentProcessor) { p.sleep = s }
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, ...sharedDomain.DomainEvent) error { return nil }

// PaymentProcessor discovers due subscriptions and settles them one at a time.
type PaymentProcessor struct {
	subs    domain.SubscriptionRepository
	plans   domain.PlanRepository
	gateway domain.SettlementGateway
	events  domain.EventPublisher
	config  ProcessorConfig
	logger  *slog.Logger
	metrics observability.Metrics
	tracer  trace.Tracer
	now     sharedDomain.Clock
	sleep   Sleeper
	spacing *rate.Limiter

	statsMu sync.Mutex
	stats   ProcessorStats
}

// NewPaymentProcessor validates cfg and wires the processor.
func NewPaymentProcessor(
	subs domain.SubscriptionRepository,
	plans domain.PlanRepository,
	gateway domain.SettlementGateway,
	events domain.EventPublisher,
	cfg ProcessorConfig,
	logger *slog.Logger,
	opts ...ProcessorOption,
) (*PaymentProcessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if events == nil {
		events = noopPublisher{}
	}

	p := &PaymentProcessor{
		subs:    subs,
		plans:   plans,
		gateway: gateway,
		events:  events,
		config:  cfg,
		logger:  observability.OrDefault(logger).With("component", "payment_processor"),
		metrics: observability.NoopMetrics{},
		tracer:  otel.Tracer(tracerName),
		now:     sharedDomain.SystemClock,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}

	limit := rate.Inf
	if cfg.SettleSpacing > 0 {
		limit = rate.Every(cfg.SettleSpacing)
	}
	p.spacing = rate.NewLimiter(limit, 1)
	return p, nil
}

// Config returns the processor configuration.
func (p *PaymentProcessor) Config() ProcessorConfig {
	return p.config
}

// RunCycle settles every subscription due now, up to BatchSize. Only a
// discovery failure is returned as an error.
func (p *PaymentProcessor) RunCycle(ctx context.Context) ([]Outcome, error) {
	start := p.now()
	timer := observability.StartTimer(p.metrics, observability.MetricCycleDuration)

	due, err := p.subs.FindDueActive(ctx, start, p.config.BatchSize)
	if err != nil {
		err = fmt.Errorf("find due subscriptions: %w", err)
		timer.Stop(err)
		p.recordCycle(start, err)
		return nil, err
	}
	p.metrics.Gauge(observability.MetricSubscriptionsDue, float64(len(due)))

	outcomes := make([]Outcome, 0, len(due))
	for _, sub := range due {
		if err := p.spacing.Wait(ctx); err != nil {
			p.logger.WarnContext(ctx, "cycle interrupted", "processed", len(outcomes), "due", len(due), "error", err)
			break
		}
		outcomes = append(outcomes, p.SettleOne(ctx, sub))
	}

	timer.Stop(nil)
	p.metrics.Counter(observability.MetricCyclesTotal, 1)
	p.recordCycle(start, nil)

	if len(due) > 0 {
		p.logger.InfoContext(ctx, "payment cycle complete",
			"due", len(due),
			"processed", len(outcomes),
			"duration", p.now().Sub(start),
		)
	}
	return outcomes, nil
}

// SettleOne runs one subscription through plan evaluation, bounded gateway
// attempts, and the resulting store write.
func (p *PaymentProcessor) SettleOne(ctx context.Context, sub *domain.Subscription) Outcome {
	ctx, span := p.tracer.Start(ctx, "billing.settle_one", trace.WithAttributes(
		attribute.String("subscription.id", sub.ID().String()),
		attribute.String("plan.key", sub.Plan().String()),
	))
	defer span.End()

	start := time.Now()
	out := p.settle(ctx, sub)
	out.SubscriptionID = sub.ID()

	span.SetAttributes(
		attribute.String("settlement.outcome", string(out.Kind)),
		attribute.Int("settlement.attempts", out.Attempts),
	)
	if out.Err != nil {
		span.RecordError(out.Err)
	}
	if out.Kind == OutcomeUnresolved || out.Kind == OutcomeStoreError {
		span.SetStatus(codes.Error, string(out.Kind))
	}

	p.metrics.Counter(observability.MetricSettlements, 1, observability.T("outcome", string(out.Kind)))
	p.metrics.Timing(observability.MetricSettleDuration, time.Since(start), observability.T("outcome", string(out.Kind)))
	p.recordOutcome(out)
	return out
}

func (p *PaymentProcessor) settle(ctx context.Context, sub *domain.Subscription) Outcome {
	logger := observability.LogOperation(p.logger, "settle", "subscription_id", sub.ID(), "plan", sub.Plan().String())

	plan, err := p.plans.Get(ctx, sub.Plan())
	if err != nil {
		logger.ErrorContext(ctx, "load plan failed", "error", err)
		return Outcome{Kind: OutcomeStoreError, Err: fmt.Errorf("load plan: %w", err)}
	}
	switch {
	case plan == nil || !plan.IsActive():
		return p.deferPayment(ctx, logger, sub, OutcomePlanInactive, domain.ReasonPlanInactive)
	case plan.IsPaused():
		return p.deferPayment(ctx, logger, sub, OutcomePlanPaused, domain.ReasonPlanPaused)
	}

	req := domain.SettlementRequest{
		PayerID:        sub.SubscriberID(),
		PayeeID:        plan.CreatorID(),
		Amount:         plan.Price(),
		IdempotencyKey: sub.IdempotencyKey(),
	}

	var lastErr error
	attempts := 0
	for n := 1; n <= p.config.RetryAttempts; n++ {
		attempts = n
		ref, err := p.attempt(ctx, req)
		p.metrics.Counter(observability.MetricSettlementAttempts, 1)
		if err == nil {
			return p.settled(ctx, logger, sub, plan, ref, attempts)
		}
		lastErr = err
		logger.WarnContext(ctx, "settlement attempt failed",
			"attempt", n,
			"max_attempts", p.config.RetryAttempts,
			"error", err,
		)
		if n == p.config.RetryAttempts {
			break
		}
		if err := p.sleep(ctx, p.config.RetryDelay(n)); err != nil {
			return Outcome{Kind: OutcomeInterrupted, Attempts: attempts, Err: err}
		}
	}

	return p.failed(ctx, logger, sub, attempts, lastErr)
}

func (p *PaymentProcessor) attempt(ctx context.Context, req domain.SettlementRequest) (domain.SettlementReference, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.config.SettlementTimeout)
	defer cancel()

	ref, err := p.gateway.Settle(callCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
		}
		return "", err
	}
	return ref, nil
}

// settled records a successful charge. The write is unconditional: funds
// have moved, so the counters must record it even if the subscriber
// cancelled during the call.
func (p *PaymentProcessor) settled(ctx context.Context, logger *slog.Logger, sub *domain.Subscription, plan *domain.Plan, ref domain.SettlementReference, attempts int) Outcome {
	now := p.now()
	upd := sub.RecordSettlement(plan, ref, now)
	events := sub.PullDomainEvents()

	var writeErr error
	for w := 1; w <= p.config.WriteRetries; w++ {
		if writeErr = p.subs.Update(ctx, sub.ID(), upd); writeErr == nil {
			break
		}
		logger.WarnContext(ctx, "settlement write failed", "write_attempt", w, "reference", ref, "error", writeErr)
		if w < p.config.WriteRetries {
			_ = p.sleep(context.WithoutCancel(ctx), p.config.WriteRetryDelay)
		}
	}

	if writeErr != nil {
		logger.ErrorContext(ctx, "unresolved settlement state",
			"reference", ref,
			"amount", plan.Price(),
			"payer", sub.SubscriberID(),
			"payee", plan.CreatorID(),
			"error", writeErr,
		)
		p.metrics.Counter(observability.MetricPaymentsUnresolved, 1)
		p.publish(ctx, domain.NewPaymentUnresolved(sub, ref, plan.Price(), writeErr, now))
		return Outcome{Kind: OutcomeUnresolved, Attempts: attempts, Reference: ref, Err: writeErr}
	}

	logger.InfoContext(ctx, "payment settled",
		"reference", ref,
		"amount", plan.Price(),
		"payment_number", sub.TotalPayments(),
		"next_payment", sub.NextPayment(),
	)
	p.publish(ctx, events...)
	return Outcome{Kind: OutcomeSettled, Attempts: attempts, Reference: ref}
}

// failed escalates after the last attempt: grace extension, or cancellation at threshold.
func (p *PaymentProcessor) failed(ctx context.Context, logger *slog.Logger, sub *domain.Subscription, attempts int, cause error) Outcome {
	now := p.now()
	upd, cancelled := sub.RecordFailure(p.config.GracePeriod, p.config.CancellationThreshold, cause, now)
	events := sub.PullDomainEvents()

	ok, err := p.subs.UpdateIfStatus(ctx, sub.ID(), []domain.Status{domain.StatusActive}, upd)
	if err != nil {
		logger.ErrorContext(ctx, "failure write failed", "error", err)
		return Outcome{Kind: OutcomeStoreError, Attempts: attempts, Err: fmt.Errorf("record failure: %w", err)}
	}
	if !ok {
		logger.InfoContext(ctx, "subscription changed during settlement, failure not recorded")
		return Outcome{Kind: OutcomeSkipped, Attempts: attempts, Err: cause}
	}

	if cancelled {
		if err := p.plans.ReleaseSeat(ctx, sub.Plan()); err != nil {
			logger.ErrorContext(ctx, "release plan seat failed", "error", err)
		}
		logger.WarnContext(ctx, "subscription cancelled after repeated payment failures",
			"failed_payments", sub.FailedPayments(),
			"error", cause,
		)
		p.publish(ctx, events...)
		return Outcome{Kind: OutcomeCancelled, Attempts: attempts, FailedPayments: sub.FailedPayments(), Err: cause}
	}

	logger.WarnContext(ctx, "payment failed, grace period extended",
		"failed_payments", sub.FailedPayments(),
		"next_payment", sub.NextPayment(),
		"error", cause,
	)
	p.publish(ctx, events...)
	return Outcome{Kind: OutcomeGraceExtended, Attempts: attempts, FailedPayments: sub.FailedPayments(), Err: cause}
}

// deferPayment pushes a payment out when its plan cannot be billed. No failure is counted.
func (p *PaymentProcessor) deferPayment(ctx context.Context, logger *slog.Logger, sub *domain.Subscription, kind OutcomeKind, reason string) Outcome {
	upd := sub.DeferPayment(reason, p.config.GracePeriod, p.now())
	events := sub.PullDomainEvents()

	ok, err := p.subs.UpdateIfStatus(ctx, sub.ID(), []domain.Status{domain.StatusActive}, upd)
	if err != nil {
		logger.ErrorContext(ctx, "defer write failed", "reason", reason, "error", err)
		return Outcome{Kind: OutcomeStoreError, Err: fmt.Errorf("defer payment: %w", err)}
	}
	if !ok {
		return Outcome{Kind: OutcomeSkipped}
	}

	logger.InfoContext(ctx, "payment deferred", "reason", reason, "next_payment", sub.NextPayment())
	p.publish(ctx, events...)
	return Outcome{Kind: kind, FailedPayments: sub.FailedPayments()}
}

func (p *PaymentProcessor) publish(ctx context.Context, events ...sharedDomain.DomainEvent) {
	if len(events) == 0 {
		return
	}
	if err := p.events.Publish(ctx, events...); err != nil {
		p.logger.WarnContext(ctx, "publish events failed", "count", len(events), "error", err)
	}
}

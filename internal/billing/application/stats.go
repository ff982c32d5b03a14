package application

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
)

// ProcessingStats is a point-in-time view of the subscription book.
type ProcessingStats struct {
	TotalActive               int `json:"total_active"`
	DueForPayment             int `json:"due_for_payment"`
	SubscriptionsWithFailures int `json:"subscriptions_with_failures"`
	CancelledInLastDay        int `json:"cancelled_in_last_day"`
}

// GetProcessingStats counts active, due, failing, and recently cancelled subscriptions.
func (p *PaymentProcessor) GetProcessingStats(ctx context.Context) (ProcessingStats, error) {
	now := p.now()
	dayAgo := now.Add(-24 * time.Hour)
	active := []domain.Status{domain.StatusActive}

	var (
		stats ProcessingStats
		err   error
	)
	if stats.TotalActive, err = p.subs.Count(ctx, domain.SubscriptionFilter{Statuses: active}); err != nil {
		return ProcessingStats{}, fmt.Errorf("count active: %w", err)
	}
	if stats.DueForPayment, err = p.subs.Count(ctx, domain.SubscriptionFilter{Statuses: active, DueAt: &now}); err != nil {
		return ProcessingStats{}, fmt.Errorf("count due: %w", err)
	}
	if stats.SubscriptionsWithFailures, err = p.subs.Count(ctx, domain.SubscriptionFilter{WithFailures: true}); err != nil {
		return ProcessingStats{}, fmt.Errorf("count failing: %w", err)
	}
	if stats.CancelledInLastDay, err = p.subs.Count(ctx, domain.SubscriptionFilter{
		Statuses:       []domain.Status{domain.StatusCancelled},
		CancelledSince: &dayAgo,
	}); err != nil {
		return ProcessingStats{}, fmt.Errorf("count cancelled: %w", err)
	}
	return stats, nil
}

// ProcessorStats are runtime counters since the processor was created.
type ProcessorStats struct {
	CyclesRun         int64         `json:"cycles_run"`
	Settled           int64         `json:"settled"`
	GraceExtended     int64         `json:"grace_extended"`
	Cancelled         int64         `json:"cancelled"`
	Deferred          int64         `json:"deferred"`
	Unresolved        int64         `json:"unresolved"`
	Skipped           int64         `json:"skipped"`
	Errors            int64         `json:"errors"`
	LastCycleAt       time.Time     `json:"last_cycle_at"`
	LastCycleDuration time.Duration `json:"last_cycle_duration_ns"`
	LastError         string        `json:"last_error,omitempty"`
}

// Stats returns a copy of the runtime counters.
func (p *PaymentProcessor) Stats() ProcessorStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *PaymentProcessor) recordOutcome(o Outcome) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	switch o.Kind {
	case OutcomeSettled:
		p.stats.Settled++
	case OutcomeGraceExtended:
		p.stats.GraceExtended++
	case OutcomeCancelled:
		p.stats.Cancelled++
	case OutcomePlanInactive, OutcomePlanPaused:
		p.stats.Deferred++
	case OutcomeUnresolved:
		p.stats.Unresolved++
	case OutcomeSkipped, OutcomeInterrupted:
		p.stats.Skipped++
	case OutcomeStoreError:
		p.stats.Errors++
	}
	if o.Kind == OutcomeUnresolved || o.Kind == OutcomeStoreError {
		p.stats.LastError = o.Err.Error()
	}
}

func (p *PaymentProcessor) recordCycle(start time.Time, err error) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	p.stats.CyclesRun++
	p.stats.LastCycleAt = start
	p.stats.LastCycleDuration = p.now().Sub(start)
	if err != nil {
		p.stats.LastError = err.Error()
		p.stats.Errors++
	}
}

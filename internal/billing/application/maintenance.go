package application

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// MaintenanceReport summarizes one maintenance run.
type MaintenanceReport struct {
	InactivePlans int             `json:"inactive_plans"`
	Expired       int             `json:"expired"`
	Stats         ProcessingStats `json:"stats"`
}

// RunMaintenance expires live subscriptions on deactivated plans and logs a
// stats snapshot.
func (p *PaymentProcessor) RunMaintenance(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport

	plans, err := p.plans.ListInactive(ctx)
	if err != nil {
		return report, fmt.Errorf("list inactive plans: %w", err)
	}
	report.InactivePlans = len(plans)

	for _, plan := range plans {
		subs, err := p.subs.FindByPlan(ctx, plan.Key(), domain.LiveStatuses)
		if err != nil {
			return report, fmt.Errorf("find subscriptions for %s: %w", plan.Key(), err)
		}
		for _, sub := range subs {
			expired, err := p.expire(ctx, sub)
			if err != nil {
				return report, err
			}
			if expired {
				report.Expired++
			}
		}
	}
	if report.Expired > 0 {
		p.metrics.Counter(observability.MetricExpiredByMaint, int64(report.Expired))
	}

	stats, err := p.GetProcessingStats(ctx)
	if err != nil {
		return report, err
	}
	report.Stats = stats

	p.logger.InfoContext(ctx, "maintenance complete",
		"inactive_plans", report.InactivePlans,
		"expired", report.Expired,
		"total_active", stats.TotalActive,
		"due_for_payment", stats.DueForPayment,
		"with_failures", stats.SubscriptionsWithFailures,
		"cancelled_last_day", stats.CancelledInLastDay,
	)
	return report, nil
}

func (p *PaymentProcessor) expire(ctx context.Context, sub *domain.Subscription) (bool, error) {
	if sub.Status().IsTerminal() {
		return false, nil
	}
	upd, err := sub.Expire(p.now())
	if err != nil {
		return false, err
	}
	events := sub.PullDomainEvents()

	ok, err := p.subs.UpdateIfStatus(ctx, sub.ID(), domain.LiveStatuses, upd)
	if err != nil {
		return false, fmt.Errorf("expire subscription %s: %w", sub.ID(), err)
	}
	if !ok {
		return false, nil
	}
	if err := p.plans.ReleaseSeat(ctx, sub.Plan()); err != nil {
		p.logger.ErrorContext(ctx, "release plan seat failed", "subscription_id", sub.ID(), "error", err)
	}
	p.publish(ctx, events...)
	return true, nil
}

package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/circulum/internal/billing/application"
	"github.com/felixgeelhaar/circulum/internal/billing/domain"
)

func TestRunMaintenance_ExpiresSubscriptionsOnDeactivatedPlans(t *testing.T) {
	f := newFixture(t, testConfig())
	active := f.seed(t, "alice", t0.Add(time.Hour), 0)
	paused := f.seed(t, "bob", t0.Add(time.Hour), 0)

	stored := f.reload(t, paused.ID())
	upd, err := stored.Pause("bob", t0)
	require.NoError(t, err)
	_, err = f.store.UpdateIfStatus(context.Background(), paused.ID(), []domain.Status{domain.StatusActive}, upd)
	require.NoError(t, err)

	require.NoError(t, f.plan.Deactivate("creator-1", t0))
	require.NoError(t, f.plans.Save(context.Background(), f.plan))

	report, err := f.proc.RunMaintenance(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.InactivePlans)
	assert.Equal(t, 2, report.Expired)
	assert.Zero(t, report.Stats.TotalActive)

	assert.Equal(t, domain.StatusExpired, f.reload(t, active.ID()).Status())
	assert.Equal(t, domain.StatusExpired, f.reload(t, paused.ID()).Status())

	plan, err := f.plans.Get(context.Background(), f.plan.Key())
	require.NoError(t, err)
	assert.Zero(t, plan.CurrentSubscribers())

	assert.Equal(t, []string{domain.RoutingKeySubscriptionExpired, domain.RoutingKeySubscriptionExpired}, f.events.keys())

	again, err := f.proc.RunMaintenance(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Expired, "expired subscriptions are terminal")
}

func TestGetProcessingStats(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seed(t, "due", t0.Add(-time.Minute), 0)
	f.seed(t, "failing", t0.Add(-time.Minute), 2)
	f.seed(t, "later", t0.Add(time.Hour), 1)
	gone := f.seed(t, "gone", t0.Add(time.Hour), 0)

	stored := f.reload(t, gone.ID())
	upd, err := stored.Cancel("gone", t0.Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.store.Update(context.Background(), gone.ID(), upd))

	stats, err := f.proc.GetProcessingStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, application.ProcessingStats{
		TotalActive:               3,
		DueForPayment:             2,
		SubscriptionsWithFailures: 2,
		CancelledInLastDay:        1,
	}, stats)
}

func TestStats_CountsOutcomes(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seed(t, "bad", t0.Add(-2*time.Minute), 2)
	f.seed(t, "ok", t0.Add(-time.Minute), 0)
	f.gateway.failNext(errLedgerDown, errLedgerDown, errLedgerDown)

	_, err := f.proc.RunCycle(context.Background())
	require.NoError(t, err)

	stats := f.proc.Stats()
	assert.Equal(t, int64(1), stats.CyclesRun)
	assert.Equal(t, int64(1), stats.Settled)
	assert.Equal(t, int64(1), stats.Cancelled)
	assert.Equal(t, t0, stats.LastCycleAt)
	assert.Empty(t, stats.LastError)
}

package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newPlan(t *testing.T, maxSubs int) *domain.Plan {
	t.Helper()
	p, err := domain.NewPlan(domain.NewPlanParams{
		CreatorID:       "creator-1",
		PlanID:          1,
		Price:           1_000,
		IntervalSeconds: 30 * 24 * 3600,
		MaxSubscribers:  maxSubs,
	}, t0)
	require.NoError(t, err)
	return p
}

func ptr[T any](v T) *T { return &v }

func TestNewPlan(t *testing.T) {
	p := newPlan(t, 10)

	assert.Equal(t, domain.PlanKey{CreatorID: "creator-1", PlanID: 1}, p.Key())
	assert.True(t, p.IsActive())
	assert.False(t, p.IsPaused())
	assert.Equal(t, 30*24*time.Hour, p.Interval())
	assert.Zero(t, p.CurrentSubscribers())

	events := p.PullDomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.RoutingKeyPlanCreated, events[0].RoutingKey())
	assert.Equal(t, p.ID(), events[0].AggregateID())
}

func TestNewPlan_Validation(t *testing.T) {
	long := make([]byte, domain.MaxMetadataURILength+1)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name    string
		params  domain.NewPlanParams
		wantErr error
	}{
		{"empty creator", domain.NewPlanParams{CreatorID: " ", PlanID: 1, Price: 1, IntervalSeconds: 1}, domain.ErrEmptyCreator},
		{"zero plan id", domain.NewPlanParams{CreatorID: "c", PlanID: 0, Price: 1, IntervalSeconds: 1}, domain.ErrInvalidPlanID},
		{"zero price", domain.NewPlanParams{CreatorID: "c", PlanID: 1, Price: 0, IntervalSeconds: 1}, domain.ErrInvalidPrice},
		{"zero interval", domain.NewPlanParams{CreatorID: "c", PlanID: 1, Price: 1, IntervalSeconds: 0}, domain.ErrInvalidInterval},
		{"negative max", domain.NewPlanParams{CreatorID: "c", PlanID: 1, Price: 1, IntervalSeconds: 1, MaxSubscribers: -1}, domain.ErrInvalidMaxSubscribers},
		{"long metadata", domain.NewPlanParams{CreatorID: "c", PlanID: 1, Price: 1, IntervalSeconds: 1, MetadataURI: string(long)}, domain.ErrMetadataURITooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.NewPlan(tt.params, t0)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPlan_Update(t *testing.T) {
	t.Run("applies changes", func(t *testing.T) {
		p := newPlan(t, 0)
		p.PullDomainEvents()

		err := p.Update("creator-1", domain.PlanChanges{Price: ptr(int64(2_500)), MetadataURI: ptr("ipfs://plan")}, t0.Add(time.Hour))
		require.NoError(t, err)

		assert.Equal(t, int64(2_500), p.Price())
		assert.Equal(t, "ipfs://plan", p.MetadataURI())
		assert.Equal(t, t0.Add(time.Hour), p.UpdatedAt())
		events := p.PullDomainEvents()
		require.Len(t, events, 1)
		assert.Equal(t, domain.RoutingKeyPlanUpdated, events[0].RoutingKey())
	})

	t.Run("rejects other callers", func(t *testing.T) {
		p := newPlan(t, 0)
		err := p.Update("someone-else", domain.PlanChanges{Price: ptr(int64(1))}, t0)
		assert.ErrorIs(t, err, domain.ErrNotPlanCreator)
	})

	t.Run("cannot drop below current subscribers", func(t *testing.T) {
		p := newPlan(t, 5)
		for i := 0; i < 3; i++ {
			require.NoError(t, p.ReserveSeat(t0))
		}
		err := p.Update("creator-1", domain.PlanChanges{MaxSubscribers: ptr(2)}, t0)
		assert.ErrorIs(t, err, domain.ErrMaxSubscribersTooLow)
		assert.Equal(t, 5, p.MaxSubscribers())

		require.NoError(t, p.Update("creator-1", domain.PlanChanges{MaxSubscribers: ptr(0)}, t0))
		assert.False(t, p.IsBounded())
	})

	t.Run("invalid change leaves plan untouched", func(t *testing.T) {
		p := newPlan(t, 0)
		err := p.Update("creator-1", domain.PlanChanges{Price: ptr(int64(5)), IntervalSeconds: ptr(int64(0))}, t0)
		assert.ErrorIs(t, err, domain.ErrInvalidInterval)
		assert.Equal(t, int64(1_000), p.Price())
	})
}

func TestPlan_Lifecycle(t *testing.T) {
	p := newPlan(t, 0)
	p.PullDomainEvents()

	require.NoError(t, p.Pause("creator-1", t0))
	assert.ErrorIs(t, p.Pause("creator-1", t0), domain.ErrPlanAlreadyPaused)
	assert.ErrorIs(t, p.ReserveSeat(t0), domain.ErrPlanPaused)

	require.NoError(t, p.Unpause("creator-1", t0))
	assert.ErrorIs(t, p.Unpause("creator-1", t0), domain.ErrPlanNotPaused)

	require.NoError(t, p.Deactivate("creator-1", t0))
	assert.ErrorIs(t, p.Deactivate("creator-1", t0), domain.ErrPlanAlreadyInactive)
	assert.ErrorIs(t, p.Pause("creator-1", t0), domain.ErrPlanInactive)
	assert.ErrorIs(t, p.ReserveSeat(t0), domain.ErrPlanInactive)

	var keys []string
	for _, e := range p.PullDomainEvents() {
		keys = append(keys, e.RoutingKey())
	}
	assert.Equal(t, []string{domain.RoutingKeyPlanPaused, domain.RoutingKeyPlanUnpaused, domain.RoutingKeyPlanDeactivated}, keys)
}

func TestPlan_Seats(t *testing.T) {
	p := newPlan(t, 2)

	require.NoError(t, p.ReserveSeat(t0))
	require.NoError(t, p.ReserveSeat(t0))
	assert.ErrorIs(t, p.ReserveSeat(t0), domain.ErrPlanFull)
	assert.Equal(t, 2, p.CurrentSubscribers())

	require.NoError(t, p.ReleaseSeat(t0))
	require.NoError(t, p.ReleaseSeat(t0))
	assert.ErrorIs(t, p.ReleaseSeat(t0), domain.ErrSeatUnderflow)
	assert.Zero(t, p.CurrentSubscribers())
}

func TestRehydratePlan(t *testing.T) {
	snap := newPlan(t, 3).Snapshot()
	snap.CurrentSubscribers = 2

	p, err := domain.RehydratePlan(snap)
	require.NoError(t, err)
	assert.Equal(t, 2, p.CurrentSubscribers())
	assert.Empty(t, p.DomainEvents())

	snap.CurrentSubscribers = 4
	_, err = domain.RehydratePlan(snap)
	assert.Error(t, err)
}

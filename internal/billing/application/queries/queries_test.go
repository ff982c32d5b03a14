package queries_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/circulum/internal/billing/application/queries"
	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	"github.com/felixgeelhaar/circulum/internal/billing/infrastructure/persistence"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T) (*persistence.MemoryPlanRepository, *persistence.MemorySubscriptionRepository, *domain.Subscription) {
	t.Helper()
	ctx := context.Background()
	plans := persistence.NewMemoryPlanRepository()
	subs := persistence.NewMemorySubscriptionRepository()

	for _, id := range []int64{1, 2} {
		p, err := domain.NewPlan(domain.NewPlanParams{CreatorID: "creator-1", PlanID: id, Price: 100 * id, IntervalSeconds: 3600}, t0)
		require.NoError(t, err)
		require.NoError(t, plans.Create(ctx, p))
	}
	p2, err := plans.Get(ctx, domain.PlanKey{CreatorID: "creator-1", PlanID: 2})
	require.NoError(t, err)
	require.NoError(t, p2.Deactivate("creator-1", t0))
	require.NoError(t, plans.Save(ctx, p2))

	p1, err := plans.Get(ctx, domain.PlanKey{CreatorID: "creator-1", PlanID: 1})
	require.NoError(t, err)
	var first *domain.Subscription
	for i, name := range []string{"alice", "bob", "carol"} {
		s, err := domain.NewSubscription(name, p1, "ref", t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.NoError(t, subs.Create(ctx, s))
		if first == nil {
			first = s
		}
	}
	return plans, subs, first
}

func TestGetPlanHandler(t *testing.T) {
	plans, _, _ := seed(t)
	h := queries.NewGetPlanHandler(plans)

	dto, err := h.Handle(context.Background(), queries.GetPlanQuery{CreatorID: "creator-1", PlanID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(100), dto.Price)
	assert.True(t, dto.IsActive)

	_, err = h.Handle(context.Background(), queries.GetPlanQuery{CreatorID: "creator-1", PlanID: 3})
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)
}

func TestListPlansHandler(t *testing.T) {
	plans, _, _ := seed(t)
	h := queries.NewListPlansHandler(plans)

	all, err := h.Handle(context.Background(), queries.ListPlansQuery{CreatorID: "creator-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := h.Handle(context.Background(), queries.ListPlansQuery{CreatorID: "creator-1", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(1), active[0].PlanID)
}

func TestGetSubscriptionHandler(t *testing.T) {
	_, subs, first := seed(t)
	h := queries.NewGetSubscriptionHandler(subs)

	dto, err := h.Handle(context.Background(), queries.GetSubscriptionQuery{SubscriptionID: first.ID()})
	require.NoError(t, err)
	assert.Equal(t, "alice", dto.SubscriberID)
	assert.Equal(t, "active", dto.Status)
	assert.Equal(t, int64(1), dto.TotalPayments)

	_, err = h.Handle(context.Background(), queries.GetSubscriptionQuery{SubscriptionID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestListSubscriptionsHandler(t *testing.T) {
	_, subs, _ := seed(t)
	h := queries.NewListSubscriptionsHandler(subs)

	page, err := h.Handle(context.Background(), queries.ListSubscriptionsQuery{CreatorID: "creator-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "alice", page[0].SubscriberID)
	assert.Equal(t, "bob", page[1].SubscriberID)

	rest, err := h.Handle(context.Background(), queries.ListSubscriptionsQuery{CreatorID: "creator-1", Offset: 2})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "carol", rest[0].SubscriberID)

	none, err := h.Handle(context.Background(), queries.ListSubscriptionsQuery{Statuses: []string{"cancelled"}})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = h.Handle(context.Background(), queries.ListSubscriptionsQuery{Statuses: []string{"zombie"}})
	assert.ErrorIs(t, err, queries.ErrUnknownStatus)
}

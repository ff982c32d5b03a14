package persistence_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	"github.com/felixgeelhaar/circulum/internal/billing/infrastructure/persistence"
	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/migrations"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stores struct {
	plans domain.PlanRepository
	subs  domain.SubscriptionRepository
	uow   func(ctx context.Context, fn func(ctx context.Context) error) error
}

func backends(t *testing.T) map[string]func(t *testing.T) stores {
	t.Helper()
	return map[string]func(t *testing.T) stores{
		"memory": func(t *testing.T) stores {
			return stores{
				plans: persistence.NewMemoryPlanRepository(),
				subs:  persistence.NewMemorySubscriptionRepository(),
			}
		},
		"sqlite": func(t *testing.T) stores {
			ctx := context.Background()
			conn, err := sqlite.NewConnection(ctx, database.Config{
				Driver:     database.DriverSQLite,
				SQLitePath: filepath.Join(t.TempDir(), "circulum.db"),
			})
			require.NoError(t, err)
			t.Cleanup(func() { _ = conn.Close() })
			_, err = migrations.Migrate(ctx, conn, nil)
			require.NoError(t, err)

			uow := database.NewUnitOfWork(conn)
			return stores{
				plans: persistence.NewSQLPlanRepository(conn),
				subs:  persistence.NewSQLSubscriptionRepository(conn),
				uow: func(ctx context.Context, fn func(ctx context.Context) error) error {
					txCtx, err := uow.Begin(ctx)
					if err != nil {
						return err
					}
					if err := fn(txCtx); err != nil {
						_ = uow.Rollback(txCtx)
						return err
					}
					return uow.Commit(txCtx)
				},
			}
		},
	}
}

func createPlan(t *testing.T, repo domain.PlanRepository, creator string, id int64, maxSubs int) *domain.Plan {
	t.Helper()
	p, err := domain.NewPlan(domain.NewPlanParams{
		CreatorID:       creator,
		PlanID:          id,
		Price:           1_000,
		IntervalSeconds: 3600,
		MaxSubscribers:  maxSubs,
		MetadataURI:     "ipfs://plan",
	}, t0)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

func createSub(t *testing.T, repo domain.SubscriptionRepository, subscriber string, plan *domain.Plan, at time.Time) *domain.Subscription {
	t.Helper()
	s, err := domain.NewSubscription(subscriber, plan, domain.SettlementReference("ref-"+subscriber), at)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), s))
	return s
}

func TestPlanRepository(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			plan := createPlan(t, st.plans, "creator-1", 1, 2)

			t.Run("duplicate key", func(t *testing.T) {
				dup, err := domain.NewPlan(domain.NewPlanParams{
					CreatorID: "creator-1", PlanID: 1, Price: 5, IntervalSeconds: 60,
				}, t0)
				require.NoError(t, err)
				assert.ErrorIs(t, st.plans.Create(ctx, dup), domain.ErrPlanExists)
			})

			t.Run("get round trips", func(t *testing.T) {
				got, err := st.plans.Get(ctx, plan.Key())
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, plan.ID(), got.ID())
				assert.Equal(t, int64(1_000), got.Price())
				assert.Equal(t, int64(3600), got.IntervalSeconds())
				assert.Equal(t, 2, got.MaxSubscribers())
				assert.Equal(t, "ipfs://plan", got.MetadataURI())
				assert.True(t, got.IsActive())
				assert.False(t, got.IsPaused())
			})

			t.Run("missing plan", func(t *testing.T) {
				got, err := st.plans.Get(ctx, domain.PlanKey{CreatorID: "nobody", PlanID: 9})
				require.NoError(t, err)
				assert.Nil(t, got)
			})

			t.Run("seats respect capacity", func(t *testing.T) {
				ok, err := st.plans.ReserveSeat(ctx, plan.Key())
				require.NoError(t, err)
				assert.True(t, ok)
				ok, err = st.plans.ReserveSeat(ctx, plan.Key())
				require.NoError(t, err)
				assert.True(t, ok)
				ok, err = st.plans.ReserveSeat(ctx, plan.Key())
				require.NoError(t, err)
				assert.False(t, ok, "plan is full")

				got, err := st.plans.Get(ctx, plan.Key())
				require.NoError(t, err)
				assert.Equal(t, 2, got.CurrentSubscribers())

				require.NoError(t, st.plans.ReleaseSeat(ctx, plan.Key()))
				require.NoError(t, st.plans.ReleaseSeat(ctx, plan.Key()))
				require.NoError(t, st.plans.ReleaseSeat(ctx, plan.Key()))
				got, err = st.plans.Get(ctx, plan.Key())
				require.NoError(t, err)
				assert.Zero(t, got.CurrentSubscribers(), "never below zero")
			})

			t.Run("save keeps seat count", func(t *testing.T) {
				ok, err := st.plans.ReserveSeat(ctx, plan.Key())
				require.NoError(t, err)
				require.True(t, ok)

				require.NoError(t, plan.Pause("creator-1", t0.Add(time.Minute)))
				require.NoError(t, st.plans.Save(ctx, plan))

				got, err := st.plans.Get(ctx, plan.Key())
				require.NoError(t, err)
				assert.True(t, got.IsPaused())
				assert.Equal(t, 1, got.CurrentSubscribers())

				ok, err = st.plans.ReserveSeat(ctx, plan.Key())
				require.NoError(t, err)
				assert.False(t, ok, "paused plans take no seats")
			})

			t.Run("list inactive and by creator", func(t *testing.T) {
				other := createPlan(t, st.plans, "creator-1", 2, 0)
				require.NoError(t, other.Deactivate("creator-1", t0.Add(time.Hour)))
				require.NoError(t, st.plans.Save(ctx, other))

				inactive, err := st.plans.ListInactive(ctx)
				require.NoError(t, err)
				require.Len(t, inactive, 1)
				assert.Equal(t, int64(2), inactive[0].PlanID())

				all, err := st.plans.ListByCreator(ctx, "creator-1")
				require.NoError(t, err)
				assert.Len(t, all, 2)
			})

			t.Run("save unknown plan", func(t *testing.T) {
				ghost, err := domain.NewPlan(domain.NewPlanParams{
					CreatorID: "ghost", PlanID: 1, Price: 5, IntervalSeconds: 60,
				}, t0)
				require.NoError(t, err)
				assert.ErrorIs(t, st.plans.Save(ctx, ghost), domain.ErrPlanNotFound)
			})
		})
	}
}

func TestSubscriptionRepository(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			plan := createPlan(t, st.plans, "creator-1", 1, 0)

			alice := createSub(t, st.subs, "alice", plan, t0)
			bob := createSub(t, st.subs, "bob", plan, t0.Add(10*time.Minute))

			t.Run("find by id", func(t *testing.T) {
				got, err := st.subs.FindByID(ctx, alice.ID())
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, "alice", got.SubscriberID())
				assert.Equal(t, plan.Key(), got.Plan())
				assert.Equal(t, domain.StatusActive, got.Status())
				assert.Equal(t, t0.Add(time.Hour), got.NextPayment())
				require.NotNil(t, got.LastPayment())
				assert.Equal(t, t0, *got.LastPayment())
				assert.Equal(t, int64(1), got.TotalPayments())
				assert.Nil(t, got.CancelledAt())

				missing, err := st.subs.FindByID(ctx, uuid.New())
				require.NoError(t, err)
				assert.Nil(t, missing)
			})

			t.Run("one live subscription per party", func(t *testing.T) {
				dup, err := domain.NewSubscription("alice", plan, "ref-2", t0)
				require.NoError(t, err)
				assert.ErrorIs(t, st.subs.Create(ctx, dup), domain.ErrAlreadySubscribed)

				live, err := st.subs.FindActiveByParty(ctx, "alice", plan.Key())
				require.NoError(t, err)
				require.NotNil(t, live)
				assert.Equal(t, alice.ID(), live.ID())
			})

			t.Run("due ordering and limit", func(t *testing.T) {
				due, err := st.subs.FindDueActive(ctx, t0.Add(2*time.Hour), 10)
				require.NoError(t, err)
				require.Len(t, due, 2)
				assert.Equal(t, alice.ID(), due[0].ID())
				assert.Equal(t, bob.ID(), due[1].ID())

				due, err = st.subs.FindDueActive(ctx, t0.Add(2*time.Hour), 1)
				require.NoError(t, err)
				assert.Len(t, due, 1)

				due, err = st.subs.FindDueActive(ctx, t0.Add(30*time.Minute), 10)
				require.NoError(t, err)
				assert.Empty(t, due)
			})

			t.Run("conditional update", func(t *testing.T) {
				failed := 1
				next := t0.Add(3 * time.Hour)
				ok, err := st.subs.UpdateIfStatus(ctx, bob.ID(), []domain.Status{domain.StatusActive}, domain.SubscriptionUpdate{
					FailedPayments: &failed,
					NextPayment:    &next,
					UpdatedAt:      t0.Add(time.Hour),
				})
				require.NoError(t, err)
				assert.True(t, ok)

				paused := domain.StatusPaused
				ok, err = st.subs.UpdateIfStatus(ctx, bob.ID(), []domain.Status{domain.StatusPaused}, domain.SubscriptionUpdate{
					Status:    &paused,
					UpdatedAt: t0.Add(time.Hour),
				})
				require.NoError(t, err)
				assert.False(t, ok, "status guard rejects")

				got, err := st.subs.FindByID(ctx, bob.ID())
				require.NoError(t, err)
				assert.Equal(t, domain.StatusActive, got.Status())
				assert.Equal(t, 1, got.FailedPayments())
				assert.Equal(t, next, got.NextPayment())
			})

			t.Run("unconditional update of unknown id", func(t *testing.T) {
				err := st.subs.Update(ctx, uuid.New(), domain.SubscriptionUpdate{UpdatedAt: t0})
				assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
			})

			t.Run("counts and filters", func(t *testing.T) {
				n, err := st.subs.Count(ctx, domain.SubscriptionFilter{Statuses: []domain.Status{domain.StatusActive}})
				require.NoError(t, err)
				assert.Equal(t, 2, n)

				n, err = st.subs.Count(ctx, domain.SubscriptionFilter{WithFailures: true})
				require.NoError(t, err)
				assert.Equal(t, 1, n)

				cancelled := domain.StatusCancelled
				at := t0.Add(4 * time.Hour)
				require.NoError(t, st.subs.Update(ctx, alice.ID(), domain.SubscriptionUpdate{
					Status:      &cancelled,
					CancelledAt: &at,
					UpdatedAt:   at,
				}))

				since := t0.Add(time.Hour)
				n, err = st.subs.Count(ctx, domain.SubscriptionFilter{CancelledSince: &since})
				require.NoError(t, err)
				assert.Equal(t, 1, n)

				live, err := st.subs.FindActiveByParty(ctx, "alice", plan.Key())
				require.NoError(t, err)
				assert.Nil(t, live, "cancelled subscriptions are not live")

				again := createSub(t, st.subs, "alice", plan, t0.Add(5*time.Hour))
				assert.NotEqual(t, alice.ID(), again.ID(), "resubscribe after cancel")

				byPlan, err := st.subs.FindByPlan(ctx, plan.Key(), domain.LiveStatuses)
				require.NoError(t, err)
				assert.Len(t, byPlan, 2)

				page, err := st.subs.List(ctx, domain.SubscriptionFilter{CreatorID: "creator-1", Offset: 1, Limit: 5})
				require.NoError(t, err)
				assert.Len(t, page, 2)

				mine, err := st.subs.List(ctx, domain.SubscriptionFilter{SubscriberID: "alice"})
				require.NoError(t, err)
				assert.Len(t, mine, 2)
			})
		})
	}
}

func TestSQLRepositories_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	st := backends(t)["sqlite"](t)
	plan := createPlan(t, st.plans, "creator-1", 1, 1)

	err := st.uow(ctx, func(ctx context.Context) error {
		ok, err := st.plans.ReserveSeat(ctx, plan.Key())
		require.NoError(t, err)
		require.True(t, ok)
		s, err := domain.NewSubscription("alice", plan, "ref", t0)
		require.NoError(t, err)
		require.NoError(t, st.subs.Create(ctx, s))
		return domain.ErrInitialPaymentFailed
	})
	require.ErrorIs(t, err, domain.ErrInitialPaymentFailed)

	got, err := st.plans.Get(ctx, plan.Key())
	require.NoError(t, err)
	assert.Zero(t, got.CurrentSubscribers())

	n, err := st.subs.Count(ctx, domain.SubscriptionFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

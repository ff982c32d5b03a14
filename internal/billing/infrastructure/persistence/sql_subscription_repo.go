package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/database"
)

const subscriptionColumns = `id, subscriber_id, creator_id, plan_id, status, next_payment,
	last_payment, failed_payments, total_payments, cancelled_at, created_at, updated_at`

// SQLSubscriptionRepository implements domain.SubscriptionRepository on PostgreSQL or SQLite.
type SQLSubscriptionRepository struct {
	conn database.Connection
}

// NewSQLSubscriptionRepository creates a subscription repository over conn.
func NewSQLSubscriptionRepository(conn database.Connection) *SQLSubscriptionRepository {
	return &SQLSubscriptionRepository{conn: conn}
}

func (r *SQLSubscriptionRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, r.conn)
}

// Create inserts sub. The partial unique index on live subscriptions turns a
// second live subscription for the same triple into ErrAlreadySubscribed.
func (r *SQLSubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	s := sub.Snapshot()
	_, err := r.exec(ctx).Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID.String(), s.SubscriberID, s.CreatorID, s.PlanID, string(s.Status), unix(s.NextPayment),
		nullUnix(s.LastPayment), s.FailedPayments, s.TotalPayments, nullUnix(s.CancelledAt),
		unix(s.CreatedAt), unix(s.UpdatedAt),
	)
	if database.IsUniqueViolation(err) {
		return domain.ErrAlreadySubscribed
	}
	if err != nil {
		return fmt.Errorf("insert subscription %s: %w", s.ID, err)
	}
	return nil
}

func (r *SQLSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	row := r.exec(ctx).QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id.String())
	return scanOptionalSubscription(row)
}

func (r *SQLSubscriptionRepository) FindActiveByParty(ctx context.Context, subscriberID string, plan domain.PlanKey) (*domain.Subscription, error) {
	row := r.exec(ctx).QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE subscriber_id = $1 AND creator_id = $2 AND plan_id = $3
		  AND status IN ('active', 'paused')`,
		subscriberID, plan.CreatorID, plan.PlanID)
	return scanOptionalSubscription(row)
}

func (r *SQLSubscriptionRepository) FindDueActive(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error) {
	return r.List(ctx, domain.SubscriptionFilter{
		Statuses: []domain.Status{domain.StatusActive},
		DueAt:    &now,
		Limit:    limit,
	})
}

func (r *SQLSubscriptionRepository) Update(ctx context.Context, id uuid.UUID, u domain.SubscriptionUpdate) error {
	ok, err := r.update(ctx, id, nil, u)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

func (r *SQLSubscriptionRepository) UpdateIfStatus(ctx context.Context, id uuid.UUID, expected []domain.Status, u domain.SubscriptionUpdate) (bool, error) {
	if len(expected) == 0 {
		return false, nil
	}
	return r.update(ctx, id, expected, u)
}

func (r *SQLSubscriptionRepository) update(ctx context.Context, id uuid.UUID, expected []domain.Status, u domain.SubscriptionUpdate) (bool, error) {
	var p params
	sets := []string{"updated_at = " + p.add(unix(u.UpdatedAt))}
	if u.Status != nil {
		sets = append(sets, "status = "+p.add(string(*u.Status)))
	}
	if u.NextPayment != nil {
		sets = append(sets, "next_payment = "+p.add(unix(*u.NextPayment)))
	}
	if u.LastPayment != nil {
		sets = append(sets, "last_payment = "+p.add(unix(*u.LastPayment)))
	}
	if u.FailedPayments != nil {
		sets = append(sets, "failed_payments = "+p.add(*u.FailedPayments))
	}
	if u.TotalPayments != nil {
		sets = append(sets, "total_payments = "+p.add(*u.TotalPayments))
	}
	if u.CancelledAt != nil {
		sets = append(sets, "cancelled_at = "+p.add(unix(*u.CancelledAt)))
	}

	q := "UPDATE subscriptions SET " + strings.Join(sets, ", ") + " WHERE id = " + p.add(id.String())
	if len(expected) > 0 {
		q += " AND status IN " + p.in(statusStrings(expected))
	}

	res, err := r.exec(ctx).Exec(ctx, q, p.args...)
	if err != nil {
		return false, fmt.Errorf("update subscription %s: %w", id, err)
	}
	return database.ExpectOneRow(res)
}

func (r *SQLSubscriptionRepository) Count(ctx context.Context, filter domain.SubscriptionFilter) (int, error) {
	where, p := buildWhere(filter)
	var n int
	if err := r.exec(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM subscriptions"+where, p.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return n, nil
}

func (r *SQLSubscriptionRepository) FindByPlan(ctx context.Context, plan domain.PlanKey, statuses []domain.Status) ([]*domain.Subscription, error) {
	return r.List(ctx, domain.SubscriptionFilter{
		CreatorID: plan.CreatorID,
		PlanID:    plan.PlanID,
		Statuses:  statuses,
	})
}

// List returns matching subscriptions ordered by next payment, then id.
func (r *SQLSubscriptionRepository) List(ctx context.Context, filter domain.SubscriptionFilter) ([]*domain.Subscription, error) {
	where, p := buildWhere(filter)
	q := "SELECT " + subscriptionColumns + " FROM subscriptions" + where + " ORDER BY next_payment, id"
	if filter.Limit > 0 {
		q += " LIMIT " + p.add(filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			// SQLite needs a LIMIT before OFFSET.
			q += " LIMIT -1"
		}
		q += " OFFSET " + p.add(filter.Offset)
	}

	rows, err := r.exec(ctx).Query(ctx, q, p.args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func buildWhere(f domain.SubscriptionFilter) (string, *params) {
	p := &params{}
	var conds []string
	if len(f.Statuses) > 0 {
		conds = append(conds, "status IN "+p.in(statusStrings(f.Statuses)))
	}
	if f.SubscriberID != "" {
		conds = append(conds, "subscriber_id = "+p.add(f.SubscriberID))
	}
	if f.CreatorID != "" {
		conds = append(conds, "creator_id = "+p.add(f.CreatorID))
	}
	if f.PlanID != 0 {
		conds = append(conds, "plan_id = "+p.add(f.PlanID))
	}
	if f.DueAt != nil {
		conds = append(conds, "next_payment <= "+p.add(unix(*f.DueAt)))
	}
	if f.WithFailures {
		conds = append(conds, "failed_payments > 0")
	}
	if f.CancelledSince != nil {
		conds = append(conds, "cancelled_at >= "+p.add(unix(*f.CancelledSince)))
	}
	if len(conds) == 0 {
		return "", p
	}
	return " WHERE " + strings.Join(conds, " AND "), p
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func scanOptionalSubscription(row database.Row) (*domain.Subscription, error) {
	sub, err := scanSubscription(row)
	if database.IsNoRows(err) {
		return nil, nil
	}
	return sub, err
}

func scanSubscription(row database.Row) (*domain.Subscription, error) {
	var (
		s                               domain.SubscriptionSnapshot
		id, status                      string
		nextPayment, createdAt, updated int64
		lastPayment, cancelledAt        sql.NullInt64
	)
	err := row.Scan(&id, &s.SubscriberID, &s.CreatorID, &s.PlanID, &status, &nextPayment,
		&lastPayment, &s.FailedPayments, &s.TotalPayments, &cancelledAt, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	if s.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse subscription id %q: %w", id, err)
	}
	s.Status = domain.Status(status)
	s.NextPayment = fromUnix(nextPayment)
	s.LastPayment = timePtr(lastPayment)
	s.CancelledAt = timePtr(cancelledAt)
	s.CreatedAt = fromUnix(createdAt)
	s.UpdatedAt = fromUnix(updated)
	return domain.RehydrateSubscription(s)
}

var _ domain.SubscriptionRepository = (*SQLSubscriptionRepository)(nil)

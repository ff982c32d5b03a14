package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/database"
)

const planColumns = `id, creator_id, plan_id, price, interval_seconds, max_subscribers,
	current_subscribers, is_active, is_paused, metadata_uri, created_at, updated_at`

// SQLPlanRepository implements domain.PlanRepository on PostgreSQL or SQLite.
type SQLPlanRepository struct {
	conn database.Connection
	now  sharedDomain.Clock
}

// NewSQLPlanRepository creates a plan repository over conn.
func NewSQLPlanRepository(conn database.Connection) *SQLPlanRepository {
	return &SQLPlanRepository{conn: conn, now: sharedDomain.SystemClock}
}

func (r *SQLPlanRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, r.conn)
}

func (r *SQLPlanRepository) Create(ctx context.Context, plan *domain.Plan) error {
	s := plan.Snapshot()
	_, err := r.exec(ctx).Exec(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID.String(), s.CreatorID, s.PlanID, s.Price, s.IntervalSeconds, s.MaxSubscribers,
		s.CurrentSubscribers, s.Active, s.Paused, s.MetadataURI, unix(s.CreatedAt), unix(s.UpdatedAt),
	)
	if database.IsUniqueViolation(err) {
		return domain.ErrPlanExists
	}
	if err != nil {
		return fmt.Errorf("insert plan %s: %w", plan.Key(), err)
	}
	return nil
}

// Save writes terms and flags. current_subscribers is left to the seat methods.
func (r *SQLPlanRepository) Save(ctx context.Context, plan *domain.Plan) error {
	s := plan.Snapshot()
	res, err := r.exec(ctx).Exec(ctx, `
		UPDATE plans SET
			price = $3,
			interval_seconds = $4,
			max_subscribers = $5,
			is_active = $6,
			is_paused = $7,
			metadata_uri = $8,
			updated_at = $9
		WHERE creator_id = $1 AND plan_id = $2`,
		s.CreatorID, s.PlanID, s.Price, s.IntervalSeconds, s.MaxSubscribers,
		s.Active, s.Paused, s.MetadataURI, unix(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("update plan %s: %w", plan.Key(), err)
	}
	ok, err := database.ExpectOneRow(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrPlanNotFound
	}
	return nil
}

func (r *SQLPlanRepository) Get(ctx context.Context, key domain.PlanKey) (*domain.Plan, error) {
	row := r.exec(ctx).QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE creator_id = $1 AND plan_id = $2`,
		key.CreatorID, key.PlanID)
	plan, err := scanPlan(row)
	if database.IsNoRows(err) {
		return nil, nil
	}
	return plan, err
}

func (r *SQLPlanRepository) ListByCreator(ctx context.Context, creatorID string) ([]*domain.Plan, error) {
	return r.query(ctx, `SELECT `+planColumns+` FROM plans WHERE creator_id = $1 ORDER BY plan_id`, creatorID)
}

func (r *SQLPlanRepository) ListInactive(ctx context.Context) ([]*domain.Plan, error) {
	return r.query(ctx, `SELECT `+planColumns+` FROM plans WHERE is_active = FALSE ORDER BY creator_id, plan_id`)
}

func (r *SQLPlanRepository) query(ctx context.Context, q string, args ...any) ([]*domain.Plan, error) {
	rows, err := r.exec(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var plans []*domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// ReserveSeat increments current_subscribers only while the plan accepts subscribers.
func (r *SQLPlanRepository) ReserveSeat(ctx context.Context, key domain.PlanKey) (bool, error) {
	res, err := r.exec(ctx).Exec(ctx, `
		UPDATE plans SET current_subscribers = current_subscribers + 1, updated_at = $3
		WHERE creator_id = $1 AND plan_id = $2
		  AND is_active = TRUE AND is_paused = FALSE
		  AND (max_subscribers = 0 OR current_subscribers < max_subscribers)`,
		key.CreatorID, key.PlanID, unix(r.now()),
	)
	if err != nil {
		return false, fmt.Errorf("reserve seat on %s: %w", key, err)
	}
	return database.ExpectOneRow(res)
}

func (r *SQLPlanRepository) ReleaseSeat(ctx context.Context, key domain.PlanKey) error {
	_, err := r.exec(ctx).Exec(ctx, `
		UPDATE plans SET current_subscribers = current_subscribers - 1, updated_at = $3
		WHERE creator_id = $1 AND plan_id = $2 AND current_subscribers > 0`,
		key.CreatorID, key.PlanID, unix(r.now()),
	)
	if err != nil {
		return fmt.Errorf("release seat on %s: %w", key, err)
	}
	return nil
}

func scanPlan(row database.Row) (*domain.Plan, error) {
	var (
		s                    domain.PlanSnapshot
		id                   string
		createdAt, updatedAt int64
	)
	err := row.Scan(&id, &s.CreatorID, &s.PlanID, &s.Price, &s.IntervalSeconds, &s.MaxSubscribers,
		&s.CurrentSubscribers, &s.Active, &s.Paused, &s.MetadataURI, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if s.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse plan id %q: %w", id, err)
	}
	s.CreatedAt = fromUnix(createdAt)
	s.UpdatedAt = fromUnix(updatedAt)
	return domain.RehydratePlan(s)
}

var _ domain.PlanRepository = (*SQLPlanRepository)(nil)

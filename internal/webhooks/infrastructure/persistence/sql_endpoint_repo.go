package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/crypto"
	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/circulum/internal/webhooks/domain"
)

const endpointColumns = `id, url, event_types, secret, active, consecutive_failures, last_delivery_attempt, created_at`

// SQLEndpointRepository stores endpoints on PostgreSQL or SQLite. Secrets
// pass through the sealer on the way in and out.
type SQLEndpointRepository struct {
	conn   database.Connection
	sealer crypto.Sealer
}

// NewSQLEndpointRepository creates an endpoint repository. A nil sealer stores secrets as given.
func NewSQLEndpointRepository(conn database.Connection, sealer crypto.Sealer) *SQLEndpointRepository {
	if sealer == nil {
		sealer = crypto.NoopSealer{}
	}
	return &SQLEndpointRepository{conn: conn, sealer: sealer}
}

func (r *SQLEndpointRepository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, r.conn)
}

func (r *SQLEndpointRepository) Create(ctx context.Context, ep *domain.Endpoint) error {
	types, err := json.Marshal(ep.EventTypes)
	if err != nil {
		return fmt.Errorf("encode event types: %w", err)
	}
	secret, err := r.sealer.Seal(ep.Secret)
	if err != nil {
		return fmt.Errorf("seal endpoint secret: %w", err)
	}

	var last sql.NullInt64
	if ep.LastDeliveryAttempt != nil {
		last = sql.NullInt64{Int64: ep.LastDeliveryAttempt.Unix(), Valid: true}
	}
	_, err = r.exec(ctx).Exec(ctx, `
		INSERT INTO webhook_endpoints (`+endpointColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ep.ID.String(), ep.URL, string(types), secret, ep.Active, ep.ConsecutiveFailures, last, ep.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert webhook endpoint: %w", err)
	}
	return nil
}

func (r *SQLEndpointRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Endpoint, error) {
	row := r.exec(ctx).QueryRow(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1`, id.String())
	ep, err := r.scan(row)
	if database.IsNoRows(err) {
		return nil, nil
	}
	return ep, err
}

func (r *SQLEndpointRepository) List(ctx context.Context) ([]*domain.Endpoint, error) {
	return r.query(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints ORDER BY created_at, id`)
}

// FindActiveByEventType filters active rows by type in Go; event_types is a
// JSON array in a TEXT column, which both dialects read the same way.
func (r *SQLEndpointRepository) FindActiveByEventType(ctx context.Context, eventType string) ([]*domain.Endpoint, error) {
	all, err := r.query(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE active = TRUE ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, ep := range all {
		if ep.Subscribes(eventType) {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (r *SQLEndpointRepository) RecordDeliverySuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.exec(ctx).Exec(ctx, `
		UPDATE webhook_endpoints SET consecutive_failures = 0, last_delivery_attempt = $2
		WHERE id = $1`, id.String(), at.Unix())
	if err != nil {
		return fmt.Errorf("record delivery success: %w", err)
	}
	return expectEndpoint(res)
}

// RecordDeliveryFailure counts the failure, then flips active with a
// conditional update so only one caller observes the transition.
func (r *SQLEndpointRepository) RecordDeliveryFailure(ctx context.Context, id uuid.UUID, at time.Time, threshold int) (domain.DeliveryHealth, error) {
	var health domain.DeliveryHealth
	err := r.exec(ctx).QueryRow(ctx, `
		UPDATE webhook_endpoints SET
			consecutive_failures = consecutive_failures + 1,
			last_delivery_attempt = $2
		WHERE id = $1
		RETURNING consecutive_failures, active`,
		id.String(), at.Unix(),
	).Scan(&health.ConsecutiveFailures, &health.Active)
	if database.IsNoRows(err) {
		return health, domain.ErrEndpointNotFound
	}
	if err != nil {
		return health, fmt.Errorf("record delivery failure: %w", err)
	}
	if !health.Active || health.ConsecutiveFailures < threshold {
		return health, nil
	}

	res, err := r.exec(ctx).Exec(ctx, `
		UPDATE webhook_endpoints SET active = FALSE
		WHERE id = $1 AND active`, id.String())
	if err != nil {
		return health, fmt.Errorf("disable endpoint: %w", err)
	}
	flipped, err := database.ExpectOneRow(res)
	if err != nil {
		return health, fmt.Errorf("disable endpoint: %w", err)
	}
	health.Active = false
	health.JustDisabled = flipped
	return health, nil
}

func (r *SQLEndpointRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := r.exec(ctx).Exec(ctx, `
		UPDATE webhook_endpoints SET
			active = $2,
			consecutive_failures = CASE WHEN $2 THEN 0 ELSE consecutive_failures END
		WHERE id = $1`, id.String(), active)
	if err != nil {
		return fmt.Errorf("set endpoint active: %w", err)
	}
	return expectEndpoint(res)
}

func expectEndpoint(res database.Result) error {
	ok, err := database.ExpectOneRow(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrEndpointNotFound
	}
	return nil
}

func (r *SQLEndpointRepository) query(ctx context.Context, q string, args ...any) ([]*domain.Endpoint, error) {
	rows, err := r.exec(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query webhook endpoints: %w", err)
	}
	defer rows.Close()

	var out []*domain.Endpoint
	for rows.Next() {
		ep, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (r *SQLEndpointRepository) scan(row database.Row) (*domain.Endpoint, error) {
	var (
		ep                domain.Endpoint
		id, types, secret string
		last              sql.NullInt64
		createdAt         int64
	)
	if err := row.Scan(&id, &ep.URL, &types, &secret, &ep.Active, &ep.ConsecutiveFailures, &last, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if ep.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse endpoint id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(types), &ep.EventTypes); err != nil {
		return nil, fmt.Errorf("decode event types of %s: %w", id, err)
	}
	if ep.Secret, err = r.sealer.Open(secret); err != nil {
		return nil, fmt.Errorf("open secret of %s: %w", id, err)
	}
	if last.Valid {
		t := time.Unix(last.Int64, 0).UTC()
		ep.LastDeliveryAttempt = &t
	}
	ep.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &ep, nil
}

var _ domain.EndpointRepository = (*SQLEndpointRepository)(nil)

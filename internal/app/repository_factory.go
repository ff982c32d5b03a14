package app

import (
	billingDomain "github.com/felixgeelhaar/circulum/internal/billing/domain"
	billingPersistence "github.com/felixgeelhaar/circulum/internal/billing/infrastructure/persistence"
	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/crypto"
	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/database"
	webhooksDomain "github.com/felixgeelhaar/circulum/internal/webhooks/domain"
	webhooksPersistence "github.com/felixgeelhaar/circulum/internal/webhooks/infrastructure/persistence"
)

// RepositoryFactory creates repositories for a connection. Without a
// connection it hands out in-memory repositories.
type RepositoryFactory struct {
	conn   database.Connection
	sealer crypto.Sealer
}

// NewRepositoryFactory creates a factory. conn may be nil.
func NewRepositoryFactory(conn database.Connection, sealer crypto.Sealer) *RepositoryFactory {
	if sealer == nil {
		sealer = crypto.NoopSealer{}
	}
	return &RepositoryFactory{conn: conn, sealer: sealer}
}

// Persistent reports whether repositories are backed by a database.
func (f *RepositoryFactory) Persistent() bool {
	return f.conn != nil
}

// Driver returns the backing driver, or "memory".
func (f *RepositoryFactory) Driver() string {
	if f.conn == nil {
		return "memory"
	}
	return f.conn.Driver().String()
}

// PlanRepository creates a plan repository.
func (f *RepositoryFactory) PlanRepository() billingDomain.PlanRepository {
	if f.conn == nil {
		return billingPersistence.NewMemoryPlanRepository()
	}
	return billingPersistence.NewSQLPlanRepository(f.conn)
}

// SubscriptionRepository creates a subscription repository.
func (f *RepositoryFactory) SubscriptionRepository() billingDomain.SubscriptionRepository {
	if f.conn == nil {
		return billingPersistence.NewMemorySubscriptionRepository()
	}
	return billingPersistence.NewSQLSubscriptionRepository(f.conn)
}

// EndpointRepository creates a webhook endpoint repository. Secrets are
// sealed only when stored in a database.
func (f *RepositoryFactory) EndpointRepository() webhooksDomain.EndpointRepository {
	if f.conn == nil {
		return webhooksPersistence.NewMemoryEndpointRepository()
	}
	return webhooksPersistence.NewSQLEndpointRepository(f.conn, f.sealer)
}

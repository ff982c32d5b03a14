package persistence

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/circulum/internal/webhooks/domain"
)

// MemoryEndpointRepository is a mutex-guarded in-memory EndpointRepository.
type MemoryEndpointRepository struct {
	mu        sync.Mutex
	endpoints map[uuid.UUID]domain.Endpoint
}

// NewMemoryEndpointRepository creates an empty repository.
func NewMemoryEndpointRepository() *MemoryEndpointRepository {
	return &MemoryEndpointRepository{endpoints: make(map[uuid.UUID]domain.Endpoint)}
}

func clone(ep domain.Endpoint) *domain.Endpoint {
	ep.EventTypes = slices.Clone(ep.EventTypes)
	if ep.LastDeliveryAttempt != nil {
		t := *ep.LastDeliveryAttempt
		ep.LastDeliveryAttempt = &t
	}
	return &ep
}

func (r *MemoryEndpointRepository) Create(_ context.Context, ep *domain.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[ep.ID] = *clone(*ep)
	return nil
}

func (r *MemoryEndpointRepository) FindByID(_ context.Context, id uuid.UUID) (*domain.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return nil, nil
	}
	return clone(ep), nil
}

func (r *MemoryEndpointRepository) List(_ context.Context) ([]*domain.Endpoint, error) {
	return r.filter(func(domain.Endpoint) bool { return true }), nil
}

func (r *MemoryEndpointRepository) FindActiveByEventType(_ context.Context, eventType string) ([]*domain.Endpoint, error) {
	return r.filter(func(ep domain.Endpoint) bool { return ep.Active && ep.Subscribes(eventType) }), nil
}

func (r *MemoryEndpointRepository) filter(keep func(domain.Endpoint) bool) []*domain.Endpoint {
	r.mu.Lock()
	var out []*domain.Endpoint
	for _, ep := range r.endpoints {
		if keep(ep) {
			out = append(out, clone(ep))
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (r *MemoryEndpointRepository) RecordDeliverySuccess(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return domain.ErrEndpointNotFound
	}
	at = at.UTC()
	ep.ConsecutiveFailures = 0
	ep.LastDeliveryAttempt = &at
	r.endpoints[id] = ep
	return nil
}

func (r *MemoryEndpointRepository) RecordDeliveryFailure(_ context.Context, id uuid.UUID, at time.Time, threshold int) (domain.DeliveryHealth, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return domain.DeliveryHealth{}, domain.ErrEndpointNotFound
	}
	at = at.UTC()
	ep.ConsecutiveFailures++
	ep.LastDeliveryAttempt = &at
	justDisabled := ep.Active && ep.ConsecutiveFailures >= threshold
	if justDisabled {
		ep.Active = false
	}
	r.endpoints[id] = ep
	return domain.DeliveryHealth{ConsecutiveFailures: ep.ConsecutiveFailures, Active: ep.Active, JustDisabled: justDisabled}, nil
}

func (r *MemoryEndpointRepository) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return domain.ErrEndpointNotFound
	}
	ep.Active = active
	if active {
		ep.ConsecutiveFailures = 0
	}
	r.endpoints[id] = ep
	return nil
}

var _ domain.EndpointRepository = (*MemoryEndpointRepository)(nil)

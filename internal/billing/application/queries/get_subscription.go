package queries

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
)

// GetSubscriptionQuery identifies one subscription.
type GetSubscriptionQuery struct {
	SubscriptionID uuid.UUID
}

// GetSubscriptionHandler handles the GetSubscriptionQuery.
type GetSubscriptionHandler struct {
	subs domain.SubscriptionRepository
}

// NewGetSubscriptionHandler creates a new GetSubscriptionHandler.
func NewGetSubscriptionHandler(subs domain.SubscriptionRepository) *GetSubscriptionHandler {
	return &GetSubscriptionHandler{subs: subs}
}

// Handle executes the GetSubscriptionQuery.
func (h *GetSubscriptionHandler) Handle(ctx context.Context, q GetSubscriptionQuery) (*SubscriptionDTO, error) {
	sub, err := h.subs.FindByID(ctx, q.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	dto := NewSubscriptionDTO(sub)
	return &dto, nil
}

// ErrUnknownStatus is returned for a status filter that names no status.
var ErrUnknownStatus = errors.New("unknown subscription status")

// DefaultListLimit applies when a list query sets no limit.
const DefaultListLimit = 100

// ListSubscriptionsQuery filters subscriptions.
type ListSubscriptionsQuery struct {
	SubscriberID string
	CreatorID    string
	PlanID       int64
	Statuses     []string
	Limit        int
	Offset       int
}

// ListSubscriptionsHandler handles the ListSubscriptionsQuery.
type ListSubscriptionsHandler struct {
	subs domain.SubscriptionRepository
}

// NewListSubscriptionsHandler creates a new ListSubscriptionsHandler.
func NewListSubscriptionsHandler(subs domain.SubscriptionRepository) *ListSubscriptionsHandler {
	return &ListSubscriptionsHandler{subs: subs}
}

// Handle executes the ListSubscriptionsQuery.
func (h *ListSubscriptionsHandler) Handle(ctx context.Context, q ListSubscriptionsQuery) ([]SubscriptionDTO, error) {
	filter := domain.SubscriptionFilter{
		SubscriberID: q.SubscriberID,
		CreatorID:    q.CreatorID,
		PlanID:       q.PlanID,
		Limit:        q.Limit,
		Offset:       q.Offset,
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	for _, s := range q.Statuses {
		status := domain.Status(s)
		if !status.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	subs, err := h.subs.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	dtos := make([]SubscriptionDTO, len(subs))
	for i, s := range subs {
		dtos[i] = NewSubscriptionDTO(s)
	}
	return dtos, nil
}

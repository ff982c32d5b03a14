package queries

import (
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
)

// PlanDTO is the read model of a plan.
type PlanDTO struct {
	ID                 uuid.UUID `json:"id"`
	CreatorID          string    `json:"creator_id"`
	PlanID             int64     `json:"plan_id"`
	Price              int64     `json:"price"`
	IntervalSeconds    int64     `json:"interval_seconds"`
	MaxSubscribers     int       `json:"max_subscribers"`
	CurrentSubscribers int       `json:"current_subscribers"`
	IsActive           bool      `json:"is_active"`
	IsPaused           bool      `json:"is_paused"`
	MetadataURI        string    `json:"metadata_uri,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NewPlanDTO converts a plan.
func NewPlanDTO(p *domain.Plan) PlanDTO {
	return PlanDTO{
		ID:                 p.ID(),
		CreatorID:          p.CreatorID(),
		PlanID:             p.PlanID(),
		Price:              p.Price(),
		IntervalSeconds:    p.IntervalSeconds(),
		MaxSubscribers:     p.MaxSubscribers(),
		CurrentSubscribers: p.CurrentSubscribers(),
		IsActive:           p.IsActive(),
		IsPaused:           p.IsPaused(),
		MetadataURI:        p.MetadataURI(),
		CreatedAt:          p.CreatedAt(),
		UpdatedAt:          p.UpdatedAt(),
	}
}

// SubscriptionDTO is the read model of a subscription.
type SubscriptionDTO struct {
	ID             uuid.UUID  `json:"id"`
	SubscriberID   string     `json:"subscriber_id"`
	CreatorID      string     `json:"creator_id"`
	PlanID         int64      `json:"plan_id"`
	Status         string     `json:"status"`
	NextPayment    time.Time  `json:"next_payment"`
	LastPayment    *time.Time `json:"last_payment,omitempty"`
	FailedPayments int        `json:"failed_payments"`
	TotalPayments  int64      `json:"total_payments"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewSubscriptionDTO converts a subscription.
func NewSubscriptionDTO(s *domain.Subscription) SubscriptionDTO {
	return SubscriptionDTO{
		ID:             s.ID(),
		SubscriberID:   s.SubscriberID(),
		CreatorID:      s.Plan().CreatorID,
		PlanID:         s.Plan().PlanID,
		Status:         string(s.Status()),
		NextPayment:    s.NextPayment(),
		LastPayment:    s.LastPayment(),
		FailedPayments: s.FailedPayments(),
		TotalPayments:  s.TotalPayments(),
		CancelledAt:    s.CancelledAt(),
		CreatedAt:      s.CreatedAt(),
	}
}

package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/google/uuid"
)

// MaxMetadataURILength bounds Plan.MetadataURI.
const MaxMetadataURILength = 200

// PlanKey is the public identity of a plan.
type PlanKey struct {
	CreatorID string
	PlanID    int64
}

func (k PlanKey) String() string {
	return fmt.Sprintf("%s/%d", k.CreatorID, k.PlanID)
}

// Validate checks both halves of the key.
func (k PlanKey) Validate() error {
	if strings.TrimSpace(k.CreatorID) == "" {
		return ErrEmptyCreator
	}
	if k.PlanID <= 0 {
		return ErrInvalidPlanID
	}
	return nil
}

// NewPlanParams describes a plan to create.
type NewPlanParams struct {
	CreatorID       string
	PlanID          int64
	Price           int64
	IntervalSeconds int64
	MaxSubscribers  int
	MetadataURI     string
}

// PlanChanges is a partial update. Nil fields are left alone.
type PlanChanges struct {
	Price           *int64
	IntervalSeconds *int64
	MaxSubscribers  *int
	MetadataURI     *string
}

// IsEmpty reports whether no field is set.
func (c PlanChanges) IsEmpty() bool {
	return c.Price == nil && c.IntervalSeconds == nil && c.MaxSubscribers == nil && c.MetadataURI == nil
}

// Plan is a creator's recurring price offer.
type Plan struct {
	sharedDomain.BaseAggregateRoot
	key                PlanKey
	price              int64
	intervalSeconds    int64
	maxSubscribers     int
	currentSubscribers int
	active             bool
	paused             bool
	metadataURI        string
}

// NewPlan creates an active, unpaused plan with no subscribers.
func NewPlan(p NewPlanParams, at time.Time) (*Plan, error) {
	key := PlanKey{CreatorID: strings.TrimSpace(p.CreatorID), PlanID: p.PlanID}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := validateTerms(p.Price, p.IntervalSeconds, p.MaxSubscribers, p.MetadataURI); err != nil {
		return nil, err
	}

	plan := &Plan{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(at),
		key:               key,
		price:             p.Price,
		intervalSeconds:   p.IntervalSeconds,
		maxSubscribers:    p.MaxSubscribers,
		active:            true,
		metadataURI:       p.MetadataURI,
	}
	plan.AddDomainEvent(NewPlanCreated(plan))
	return plan, nil
}

func validateTerms(price, intervalSeconds int64, maxSubscribers int, metadataURI string) error {
	if price <= 0 {
		return ErrInvalidPrice
	}
	if intervalSeconds < 1 {
		return ErrInvalidInterval
	}
	if maxSubscribers < 0 {
		return ErrInvalidMaxSubscribers
	}
	if utf8.RuneCountInString(metadataURI) > MaxMetadataURILength {
		return ErrMetadataURITooLong
	}
	return nil
}

// PlanSnapshot is the persisted form of a plan.
type PlanSnapshot struct {
	ID                 uuid.UUID
	CreatorID          string
	PlanID             int64
	Price              int64
	IntervalSeconds    int64
	MaxSubscribers     int
	CurrentSubscribers int
	Active             bool
	Paused             bool
	MetadataURI        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RehydratePlan rebuilds a plan from storage, rejecting rows that break its invariants.
func RehydratePlan(s PlanSnapshot) (*Plan, error) {
	key := PlanKey{CreatorID: s.CreatorID, PlanID: s.PlanID}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := validateTerms(s.Price, s.IntervalSeconds, s.MaxSubscribers, s.MetadataURI); err != nil {
		return nil, err
	}
	if s.CurrentSubscribers < 0 || (s.MaxSubscribers > 0 && s.CurrentSubscribers > s.MaxSubscribers) {
		return nil, fmt.Errorf("plan %s: current subscribers %d outside limit %d", key, s.CurrentSubscribers, s.MaxSubscribers)
	}

	return &Plan{
		BaseAggregateRoot: sharedDomain.RehydrateBaseAggregateRoot(
			sharedDomain.RehydrateBaseEntity(s.ID, s.CreatedAt, s.UpdatedAt),
		),
		key:                key,
		price:              s.Price,
		intervalSeconds:    s.IntervalSeconds,
		maxSubscribers:     s.MaxSubscribers,
		currentSubscribers: s.CurrentSubscribers,
		active:             s.Active,
		paused:             s.Paused,
		metadataURI:        s.MetadataURI,
	}, nil
}

// Snapshot returns the persisted form of the plan.
func (p *Plan) Snapshot() PlanSnapshot {
	return PlanSnapshot{
		ID:                 p.ID(),
		CreatorID:          p.key.CreatorID,
		PlanID:             p.key.PlanID,
		Price:              p.price,
		IntervalSeconds:    p.intervalSeconds,
		MaxSubscribers:     p.maxSubscribers,
		CurrentSubscribers: p.currentSubscribers,
		Active:             p.active,
		Paused:             p.paused,
		MetadataURI:        p.metadataURI,
		CreatedAt:          p.CreatedAt(),
		UpdatedAt:          p.UpdatedAt(),
	}
}

func (p *Plan) Key() PlanKey            { return p.key }
func (p *Plan) CreatorID() string       { return p.key.CreatorID }
func (p *Plan) PlanID() int64           { return p.key.PlanID }
func (p *Plan) Price() int64            { return p.price }
func (p *Plan) IntervalSeconds() int64  { return p.intervalSeconds }
func (p *Plan) MaxSubscribers() int     { return p.maxSubscribers }
func (p *Plan) CurrentSubscribers() int { return p.currentSubscribers }
func (p *Plan) IsActive() bool          { return p.active }
func (p *Plan) IsPaused() bool          { return p.paused }
func (p *Plan) MetadataURI() string     { return p.metadataURI }

// Interval returns the billing period.
func (p *Plan) Interval() time.Duration {
	return time.Duration(p.intervalSeconds) * time.Second
}

// IsBounded reports whether the plan caps its subscribers.
func (p *Plan) IsBounded() bool { return p.maxSubscribers > 0 }

// HasCapacity reports whether another seat can be reserved.
func (p *Plan) HasCapacity() bool {
	return !p.IsBounded() || p.currentSubscribers < p.maxSubscribers
}

// AcceptsSubscribers reports whether new subscriptions may be opened.
func (p *Plan) AcceptsSubscribers() error {
	if !p.active {
		return ErrPlanInactive
	}
	if p.paused {
		return ErrPlanPaused
	}
	if !p.HasCapacity() {
		return ErrPlanFull
	}
	return nil
}

func (p *Plan) authorize(creatorID string) error {
	if creatorID != p.key.CreatorID {
		return ErrNotPlanCreator
	}
	return nil
}

// Update applies changes on behalf of creatorID.
func (p *Plan) Update(creatorID string, changes PlanChanges, at time.Time) error {
	if err := p.authorize(creatorID); err != nil {
		return err
	}
	if !p.active {
		return ErrPlanInactive
	}

	price, interval, maxSubs, uri := p.price, p.intervalSeconds, p.maxSubscribers, p.metadataURI
	if changes.Price != nil {
		price = *changes.Price
	}
	if changes.IntervalSeconds != nil {
		interval = *changes.IntervalSeconds
	}
	if changes.MaxSubscribers != nil {
		maxSubs = *changes.MaxSubscribers
	}
	if changes.MetadataURI != nil {
		uri = *changes.MetadataURI
	}
	if err := validateTerms(price, interval, maxSubs, uri); err != nil {
		return err
	}
	if maxSubs > 0 && maxSubs < p.currentSubscribers {
		return ErrMaxSubscribersTooLow
	}

	p.price, p.intervalSeconds, p.maxSubscribers, p.metadataURI = price, interval, maxSubs, uri
	p.Touch(at)
	p.AddDomainEvent(NewPlanUpdated(p, at))
	return nil
}

// Pause stops billing and new subscriptions until Unpause.
func (p *Plan) Pause(creatorID string, at time.Time) error {
	if err := p.authorize(creatorID); err != nil {
		return err
	}
	if !p.active {
		return ErrPlanInactive
	}
	if p.paused {
		return ErrPlanAlreadyPaused
	}
	p.paused = true
	p.Touch(at)
	p.AddDomainEvent(NewPlanStateChanged(p, RoutingKeyPlanPaused, at))
	return nil
}

// Unpause resumes a paused plan.
func (p *Plan) Unpause(creatorID string, at time.Time) error {
	if err := p.authorize(creatorID); err != nil {
		return err
	}
	if !p.active {
		return ErrPlanInactive
	}
	if !p.paused {
		return ErrPlanNotPaused
	}
	p.paused = false
	p.Touch(at)
	p.AddDomainEvent(NewPlanStateChanged(p, RoutingKeyPlanUnpaused, at))
	return nil
}

// Deactivate retires the plan permanently.
func (p *Plan) Deactivate(creatorID string, at time.Time) error {
	if err := p.authorize(creatorID); err != nil {
		return err
	}
	if !p.active {
		return ErrPlanAlreadyInactive
	}
	p.active = false
	p.Touch(at)
	p.AddDomainEvent(NewPlanStateChanged(p, RoutingKeyPlanDeactivated, at))
	return nil
}

// ReserveSeat takes one subscriber slot.
func (p *Plan) ReserveSeat(at time.Time) error {
	if err := p.AcceptsSubscribers(); err != nil {
		return err
	}
	p.currentSubscribers++
	p.Touch(at)
	return nil
}

// ReleaseSeat frees one subscriber slot.
func (p *Plan) ReleaseSeat(at time.Time) error {
	if p.currentSubscribers == 0 {
		return ErrSeatUnderflow
	}
	p.currentSubscribers--
	p.Touch(at)
	return nil
}

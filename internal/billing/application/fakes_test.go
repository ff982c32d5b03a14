package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var errLedgerDown = fmt.Errorf("%w: ledger timeout", domain.ErrGatewayUnavailable)

// fakeGateway replays scripted errors, then succeeds.
type fakeGateway struct {
	mu       sync.Mutex
	script   []error
	requests []domain.SettlementRequest
	onSettle func()
}

func (g *fakeGateway) failNext(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = append(g.script, errs...)
}

func (g *fakeGateway) Settle(_ context.Context, req domain.SettlementRequest) (domain.SettlementReference, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	hook := g.onSettle
	var err error
	if len(g.script) > 0 {
		err, g.script = g.script[0], g.script[1:]
	}
	n := len(g.requests)
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return "", err
	}
	return domain.SettlementReference(fmt.Sprintf("stl-%d", n)), nil
}

func (g *fakeGateway) calls() []domain.SettlementRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.SettlementRequest(nil), g.requests...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []sharedDomain.DomainEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events ...sharedDomain.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return p.err
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, len(p.events))
	for i, e := range p.events {
		keys[i] = e.RoutingKey()
	}
	return keys
}

func (p *recordingPublisher) last() sharedDomain.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

// flakySubscriptions fails the next n unconditional updates.
type flakySubscriptions struct {
	domain.SubscriptionRepository
	mu          sync.Mutex
	failUpdates int
	updates     int
}

var errStoreDown = errors.New("store unavailable")

func (f *flakySubscriptions) Update(ctx context.Context, id uuid.UUID, u domain.SubscriptionUpdate) error {
	f.mu.Lock()
	f.updates++
	fail := f.failUpdates > 0
	if fail {
		f.failUpdates--
	}
	f.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return f.SubscriptionRepository.Update(ctx, id, u)
}

type sleepRecorder struct {
	mu     sync.Mutex
	waits  []time.Duration
	cancel bool
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	cancel := s.cancel
	s.mu.Unlock()
	if cancel {
		return context.Canceled
	}
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

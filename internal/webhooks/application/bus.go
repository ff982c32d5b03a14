package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/circulum/internal/webhooks/domain"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// ErrQueueFull is returned by Emit when the queue is at capacity. The event is dropped.
var ErrQueueFull = errors.New("event queue is full")

// Deliverer sends one event to one endpoint. A nil error means the receiver
// answered 2xx.
type Deliverer interface {
	Deliver(ctx context.Context, endpoint *domain.Endpoint, event domain.Event) error
}

// BusOption customizes a Bus.
type BusOption func(*Bus)

// WithBusClock replaces the wall clock.
func WithBusClock(clock sharedDomain.Clock) BusOption {
	return func(b *Bus) { b.now = clock }
}

// WithBusMetrics sets the metrics sink.
func WithBusMetrics(m observability.Metrics) BusOption {
	return func(b *Bus) { b.metrics = m }
}

// WithMirror copies every drained event to a broker. Mirror failures are logged only.
func WithMirror(p eventbus.Publisher) BusOption {
	return func(b *Bus) { b.mirror = p }
}

// BusStats is a snapshot of bus activity.
type BusStats struct {
	Queued            int
	Emitted           uint64
	Dropped           uint64
	Delivered         uint64
	Failed            uint64
	EndpointsDisabled uint64
	LastDrainAt       *time.Time
}

// Bus queues events in memory and delivers each one to every active
// endpoint subscribed to its type. Delivery is at-least-once per drained
// event with no retry: failures only count against endpoint health.
type Bus struct {
	endpoints domain.EndpointRepository
	deliverer Deliverer
	mirror    eventbus.Publisher
	config    BusConfig
	logger    *slog.Logger
	metrics   observability.Metrics
	now       sharedDomain.Clock

	mu     sync.Mutex
	queue  []domain.Event
	notify chan struct{}

	draining atomic.Bool
	running  atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup

	statsMu sync.Mutex
	stats   BusStats
}

// NewBus validates cfg and creates a stopped bus.
func NewBus(endpoints domain.EndpointRepository, deliverer Deliverer, cfg BusConfig, logger *slog.Logger, opts ...BusOption) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Bus{
		endpoints: endpoints,
		deliverer: deliverer,
		config:    cfg,
		logger:    observability.OrDefault(logger).With("component", "event_bus"),
		metrics:   observability.NoopMetrics{},
		now:       sharedDomain.SystemClock,
		notify:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Emit wraps payload in a new event and queues it. It never blocks.
func (b *Bus) Emit(eventType string, payload any) (domain.Event, error) {
	ev, err := domain.NewEvent(eventType, payload, b.now())
	if err != nil {
		return domain.Event{}, err
	}
	if err := b.enqueue(ev); err != nil {
		return domain.Event{}, err
	}
	return ev, nil
}

// Publish queues billing domain events, keeping their ids and occurrence
// times. Every event is attempted; the returned error joins the failures.
func (b *Bus) Publish(_ context.Context, events ...sharedDomain.DomainEvent) error {
	var errs []error
	for _, e := range events {
		ev, err := domain.NewEventWithID(e.EventID(), e.RoutingKey(), e, e.OccurredAt())
		if err == nil {
			err = b.enqueue(ev)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s %s: %w", e.RoutingKey(), e.EventID(), err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) enqueue(ev domain.Event) error {
	b.mu.Lock()
	if len(b.queue) >= b.config.QueueCapacity {
		b.mu.Unlock()
		b.statsMu.Lock()
		b.stats.Dropped++
		b.statsMu.Unlock()
		b.metrics.Counter(observability.MetricEventsDropped, 1, observability.T("type", ev.Type))
		b.logger.Warn("event queue full, dropping event", "event_id", ev.ID, "type", ev.Type)
		return ErrQueueFull
	}
	b.queue = append(b.queue, ev)
	depth := len(b.queue)
	b.mu.Unlock()

	b.statsMu.Lock()
	b.stats.Emitted++
	b.statsMu.Unlock()
	b.metrics.Counter(observability.MetricEventsEmitted, 1, observability.T("type", ev.Type))
	b.metrics.Gauge(observability.MetricQueueDepth, float64(depth))

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

func (b *Bus) pop() (domain.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return domain.Event{}, false
	}
	ev := b.queue[0]
	b.queue[0] = domain.Event{}
	b.queue = b.queue[1:]
	b.metrics.Gauge(observability.MetricQueueDepth, float64(len(b.queue)))
	return ev, true
}

// Pending returns the number of queued events.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Drain delivers queued events in FIFO order until the queue is empty or ctx
// ends. Each event's deliveries finish before the next event is popped. A
// call made while another drain runs returns immediately with zero.
func (b *Bus) Drain(ctx context.Context) (int, error) {
	if !b.draining.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer b.draining.Store(false)

	n := 0
	defer func() {
		if n > 0 {
			now := b.now()
			b.statsMu.Lock()
			b.stats.LastDrainAt = &now
			b.statsMu.Unlock()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ev, ok := b.pop()
		if !ok {
			return n, nil
		}
		b.dispatch(ctx, ev)
		n++
	}
}

func (b *Bus) dispatch(ctx context.Context, ev domain.Event) {
	if b.mirror != nil {
		b.mirrorEvent(ctx, ev)
	}

	targets, err := b.endpoints.FindActiveByEventType(ctx, ev.Type)
	if err != nil {
		b.logger.Error("failed to load endpoints, event not delivered",
			"event_id", ev.ID,
			"type", ev.Type,
			"error", err,
		)
		return
	}

	var g errgroup.Group
	g.SetLimit(b.config.MaxConcurrentDeliveries)
	for _, ep := range targets {
		g.Go(func() error {
			b.deliver(ctx, ep, ev)
			return nil
		})
	}
	_ = g.Wait()
}

func (b *Bus) mirrorEvent(ctx context.Context, ev domain.Event) {
	body, err := json.Marshal(ev)
	if err == nil {
		err = b.mirror.Publish(ctx, eventbus.Message{
			ID:         ev.ID.String(),
			RoutingKey: ev.Type,
			Body:       body,
			Timestamp:  ev.Timestamp,
		})
	}
	if err != nil {
		b.metrics.Counter(observability.MetricBrokerErrors, 1)
		b.logger.Warn("failed to mirror event to broker", "event_id", ev.ID, "type", ev.Type, "error", err)
	}
}

func (b *Bus) deliver(ctx context.Context, ep *domain.Endpoint, ev domain.Event) {
	dctx, cancel := context.WithTimeout(ctx, b.config.DeliveryTimeout)
	timer := observability.StartTimer(b.metrics, observability.MetricDeliveryDuration)
	err := b.deliverer.Deliver(dctx, ep, ev)
	cancel()
	timer.Stop(err)

	at := b.now()
	if err == nil {
		b.metrics.Counter(observability.MetricDeliveries, 1, observability.T("outcome", "success"))
		b.statsMu.Lock()
		b.stats.Delivered++
		b.statsMu.Unlock()
		if recErr := b.endpoints.RecordDeliverySuccess(ctx, ep.ID, at); recErr != nil {
			b.logger.Error("failed to record delivery success", "endpoint_id", ep.ID, "error", recErr)
		}
		return
	}

	b.metrics.Counter(observability.MetricDeliveries, 1, observability.T("outcome", "failure"))
	b.statsMu.Lock()
	b.stats.Failed++
	b.statsMu.Unlock()
	b.logger.Debug("webhook delivery failed",
		"endpoint_id", ep.ID,
		"event_id", ev.ID,
		"type", ev.Type,
		"error", err,
	)

	health, recErr := b.endpoints.RecordDeliveryFailure(ctx, ep.ID, at, b.config.DisableThreshold)
	if recErr != nil {
		b.logger.Error("failed to record delivery failure", "endpoint_id", ep.ID, "error", recErr)
		return
	}
	if health.Disabled() {
		b.metrics.Counter(observability.MetricEndpointsDisabled, 1)
		b.statsMu.Lock()
		b.stats.EndpointsDisabled++
		b.statsMu.Unlock()
		b.logger.Warn("webhook endpoint disabled after consecutive failures",
			"endpoint_id", ep.ID,
			"url", ep.URL,
			"consecutive_failures", health.ConsecutiveFailures,
			"last_error", err,
		)
	}
}

// Start runs the delivery loop until Stop is called or ctx ends. Deliveries
// run on a context detached from ctx's cancellation.
func (b *Bus) Start(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return nil
	}
	b.stopCh = make(chan struct{})

	b.wg.Add(1)
	go b.run(ctx, b.stopCh)

	b.logger.Info("event bus started",
		"drain_interval", b.config.DrainInterval,
		"max_concurrent_deliveries", b.config.MaxConcurrentDeliveries,
		"queue_capacity", b.config.QueueCapacity,
	)
	return nil
}

func (b *Bus) run(ctx context.Context, stop <-chan struct{}) {
	defer b.wg.Done()

	work := context.WithoutCancel(ctx)
	ticker := time.NewTicker(b.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-b.notify:
		case <-ticker.C:
		}
		if _, err := b.Drain(work); err != nil {
			b.logger.Error("drain failed", "error", err)
		}
	}
}

// Stop ends the loop and makes a final drain, bounded by ctx.
func (b *Bus) Stop(ctx context.Context) error {
	if !b.running.CompareAndSwap(true, false) {
		return nil
	}
	close(b.stopCh)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	n, err := b.Drain(ctx)
	b.logger.Info("event bus stopped", "final_drain", n, "left_queued", b.Pending())
	return err
}

// IsRunning reports whether the delivery loop is active.
func (b *Bus) IsRunning() bool {
	return b.running.Load()
}

// Stats returns a snapshot of bus activity.
func (b *Bus) Stats() BusStats {
	b.statsMu.Lock()
	s := b.stats
	b.statsMu.Unlock()
	s.Queued = b.Pending()
	return s
}

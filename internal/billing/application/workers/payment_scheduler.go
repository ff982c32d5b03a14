package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/felixgeelhaar/circulum/internal/billing/application"
	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// DefaultCycleInterval is the default interval between payment cycles.
const DefaultCycleInterval = 5 * time.Minute

// DefaultMaintenanceInterval is the default interval between maintenance runs.
const DefaultMaintenanceInterval = 24 * time.Hour

// ErrCycleInProgress is returned by ProcessDueNow while a cycle is running.
var ErrCycleInProgress = errors.New("payment cycle already in progress")

// Processor is the part of the payment processor the scheduler drives.
type Processor interface {
	RunCycle(ctx context.Context) ([]application.Outcome, error)
	RunMaintenance(ctx context.Context) (application.MaintenanceReport, error)
	GetProcessingStats(ctx context.Context) (application.ProcessingStats, error)
}

// SchedulerConfig configures the payment scheduler.
type SchedulerConfig struct {
	CycleInterval       time.Duration `validate:"gt=0"`
	MaintenanceInterval time.Duration `validate:"gt=0"`
}

// DefaultSchedulerConfig returns the default configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CycleInterval:       DefaultCycleInterval,
		MaintenanceInterval: DefaultMaintenanceInterval,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the intervals.
func (c SchedulerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid scheduler config: %w", err)
	}
	return nil
}

// Status is the operational view of the scheduler.
type Status struct {
	IsRunning         bool                         `json:"is_running"`
	Started           bool                         `json:"started"`
	LastCycleAt       *time.Time                   `json:"last_cycle_at,omitempty"`
	LastCycleDuration time.Duration                `json:"last_cycle_duration_ns"`
	LastCycleOutcomes int                          `json:"last_cycle_outcomes"`
	CyclesCompleted   int64                        `json:"cycles_completed"`
	SkippedTicks      int64                        `json:"skipped_ticks"`
	LastMaintenanceAt *time.Time                   `json:"last_maintenance_at,omitempty"`
	LastError         string                       `json:"last_error,omitempty"`
	Processing        *application.ProcessingStats `json:"processing,omitempty"`
	ProcessingError   string                       `json:"processing_error,omitempty"`
}

// PaymentScheduler runs payment cycles on a fixed interval and never lets
// two cycles overlap.
type PaymentScheduler struct {
	processor Processor
	config    SchedulerConfig
	logger    *slog.Logger
	metrics   observability.Metrics
	now       sharedDomain.Clock

	started     atomic.Bool
	running     atomic.Bool
	maintaining atomic.Bool

	baseCtx  context.Context
	stopCh   chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
	inflight sync.WaitGroup

	mu                sync.Mutex
	lastCycleAt       time.Time
	lastCycleDuration time.Duration
	lastCycleOutcomes int
	cyclesCompleted   int64
	skippedTicks      int64
	lastMaintenanceAt time.Time
	lastError         string
}

// NewPaymentScheduler creates a scheduler. A nil metrics sink is replaced by NoopMetrics.
func NewPaymentScheduler(processor Processor, config SchedulerConfig, metrics observability.Metrics, logger *slog.Logger) (*PaymentScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &PaymentScheduler{
		processor: processor,
		config:    config,
		logger:    observability.OrDefault(logger).With("component", "payment_scheduler"),
		metrics:   metrics,
		now:       sharedDomain.SystemClock,
		stopCh:    make(chan struct{}),
		loopDone:  make(chan struct{}),
	}, nil
}

// Start runs one cycle immediately and then one per CycleInterval. A second
// call is a no-op. Cycles run on a context detached from ctx's cancellation,
// so only Stop ends the schedule.
func (s *PaymentScheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	s.baseCtx = context.WithoutCancel(ctx)

	s.logger.InfoContext(ctx, "payment scheduler started",
		"cycle_interval", s.config.CycleInterval,
		"maintenance_interval", s.config.MaintenanceInterval,
	)
	go s.loop()
	return nil
}

func (s *PaymentScheduler) loop() {
	defer close(s.loopDone)

	s.tick()

	cycles := time.NewTicker(s.config.CycleInterval)
	defer cycles.Stop()
	maintenance := time.NewTicker(s.config.MaintenanceInterval)
	defer maintenance.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-cycles.C:
			s.tick()
		case <-maintenance.C:
			s.maintain()
		}
	}
}

// tick starts a cycle unless one is already running.
func (s *PaymentScheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.skippedTicks++
		skipped := s.skippedTicks
		s.mu.Unlock()
		s.metrics.Counter(observability.MetricSkippedTicks, 1)
		s.logger.Warn("payment cycle still running, tick skipped", "skipped_ticks", skipped)
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.running.Store(false)
		_, _ = s.runCycle(s.baseCtx)
	}()
}

func (s *PaymentScheduler) maintain() {
	if !s.maintaining.CompareAndSwap(false, true) {
		s.logger.Warn("maintenance still running, tick skipped")
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.maintaining.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.recordError(fmt.Errorf("maintenance panicked: %v", r))
				s.logger.Error("maintenance panicked", "panic", r)
			}
		}()

		report, err := s.processor.RunMaintenance(s.baseCtx)
		s.mu.Lock()
		s.lastMaintenanceAt = s.now()
		s.mu.Unlock()
		if err != nil {
			s.recordError(err)
			s.logger.Error("maintenance failed", "error", err)
			return
		}
		s.logger.Info("maintenance run complete", "expired", report.Expired, "inactive_plans", report.InactivePlans)
	}()
}

// ProcessDueNow runs a cycle on the caller's goroutine. It returns
// ErrCycleInProgress instead of waiting when one is already running.
func (s *PaymentScheduler) ProcessDueNow(ctx context.Context) ([]application.Outcome, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer s.running.Store(false)

	s.inflight.Add(1)
	defer s.inflight.Done()
	return s.runCycle(context.WithoutCancel(ctx))
}

func (s *PaymentScheduler) runCycle(ctx context.Context) (outcomes []application.Outcome, err error) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("payment cycle panicked: %v", r)
			s.logger.ErrorContext(ctx, "payment cycle panicked", "panic", r)
		}

		s.mu.Lock()
		s.lastCycleAt = start
		s.lastCycleDuration = s.now().Sub(start)
		s.lastCycleOutcomes = len(outcomes)
		s.cyclesCompleted++
		if err != nil {
			s.lastError = err.Error()
		}
		s.mu.Unlock()
	}()

	outcomes, err = s.processor.RunCycle(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "payment cycle failed", "error", err)
	}
	return outcomes, err
}

func (s *PaymentScheduler) recordError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

// Stop ends the schedule and waits for the loop and any in-flight cycle or
// maintenance run. It returns ctx.Err() if ctx ends first.
func (s *PaymentScheduler) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		<-s.loopDone
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.InfoContext(ctx, "payment scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether a cycle is executing.
func (s *PaymentScheduler) IsRunning() bool {
	return s.running.Load()
}

// GetStatus returns the scheduler's counters with a fresh processing snapshot.
func (s *PaymentScheduler) GetStatus(ctx context.Context) Status {
	s.mu.Lock()
	st := Status{
		IsRunning:         s.running.Load(),
		Started:           s.started.Load(),
		LastCycleDuration: s.lastCycleDuration,
		LastCycleOutcomes: s.lastCycleOutcomes,
		CyclesCompleted:   s.cyclesCompleted,
		SkippedTicks:      s.skippedTicks,
		LastError:         s.lastError,
	}
	if !s.lastCycleAt.IsZero() {
		at := s.lastCycleAt
		st.LastCycleAt = &at
	}
	if !s.lastMaintenanceAt.IsZero() {
		at := s.lastMaintenanceAt
		st.LastMaintenanceAt = &at
	}
	s.mu.Unlock()

	stats, err := s.processor.GetProcessingStats(ctx)
	if err != nil {
		st.ProcessingError = err.Error()
	} else {
		st.Processing = &stats
	}
	return st
}

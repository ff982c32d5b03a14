package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/circulum/internal/billing/application"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

type mockProcessor struct {
	cycles      atomic.Int64
	maintenance atomic.Int64
	release     chan struct{}
	entered     chan struct{}
	enterOnce   sync.Once
	err         error
	panicOnce   atomic.Bool
}

func newMockProcessor() *mockProcessor {
	return &mockProcessor{entered: make(chan struct{})}
}

func (m *mockProcessor) RunCycle(ctx context.Context) ([]application.Outcome, error) {
	m.cycles.Add(1)
	m.enterOnce.Do(func() { close(m.entered) })
	if m.panicOnce.CompareAndSwap(true, false) {
		panic("ledger client bug")
	}
	if m.release != nil {
		<-m.release
	}
	if m.err != nil {
		return nil, m.err
	}
	return []application.Outcome{{Kind: application.OutcomeSettled}}, nil
}

func (m *mockProcessor) RunMaintenance(context.Context) (application.MaintenanceReport, error) {
	m.maintenance.Add(1)
	return application.MaintenanceReport{Expired: 1}, nil
}

func (m *mockProcessor) GetProcessingStats(context.Context) (application.ProcessingStats, error) {
	return application.ProcessingStats{TotalActive: 3}, nil
}

func newScheduler(t *testing.T, p Processor, cfg SchedulerConfig, metrics observability.Metrics) *PaymentScheduler {
	t.Helper()
	s, err := NewPaymentScheduler(p, cfg, metrics, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func TestNewPaymentScheduler_InvalidConfig(t *testing.T) {
	_, err := NewPaymentScheduler(newMockProcessor(), SchedulerConfig{}, nil, nil)
	assert.Error(t, err)
}

func TestPaymentScheduler_RunsEagerCycleAndTicks(t *testing.T) {
	p := newMockProcessor()
	s := newScheduler(t, p, SchedulerConfig{CycleInterval: 20 * time.Millisecond, MaintenanceInterval: 30 * time.Millisecond}, nil)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()), "second start is a no-op")

	assert.Eventually(t, func() bool { return p.cycles.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return p.maintenance.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	status := s.GetStatus(context.Background())
	assert.True(t, status.Started)
	assert.GreaterOrEqual(t, status.CyclesCompleted, int64(2))
	require.NotNil(t, status.Processing)
	assert.Equal(t, 3, status.Processing.TotalActive)
	require.NotNil(t, status.LastCycleAt)
}

func TestPaymentScheduler_SkipsOverlappingTicks(t *testing.T) {
	p := newMockProcessor()
	p.release = make(chan struct{})
	metrics := observability.NewInMemoryMetrics()
	s := newScheduler(t, p, SchedulerConfig{CycleInterval: 10 * time.Millisecond, MaintenanceInterval: time.Hour}, metrics)

	require.NoError(t, s.Start(context.Background()))
	<-p.entered

	assert.Eventually(t, func() bool { return s.GetStatus(context.Background()).SkippedTicks >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), p.cycles.Load(), "ticks are skipped, not queued")
	assert.True(t, s.IsRunning())

	_, err := s.ProcessDueNow(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(p.release)
	assert.Eventually(t, func() bool { return p.cycles.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, metrics.CounterTotal(observability.MetricSkippedTicks), int64(2))
}

func TestPaymentScheduler_ProcessDueNow(t *testing.T) {
	p := newMockProcessor()
	s := newScheduler(t, p, DefaultSchedulerConfig(), nil)

	outcomes, err := s.ProcessDueNow(context.Background())
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)

	status := s.GetStatus(context.Background())
	assert.False(t, status.Started)
	assert.False(t, status.IsRunning)
	assert.Equal(t, int64(1), status.CyclesCompleted)
	assert.Equal(t, 1, status.LastCycleOutcomes)
}

func TestPaymentScheduler_ProcessDueNowIgnoresCallerCancellation(t *testing.T) {
	p := newMockProcessor()
	s := newScheduler(t, p, DefaultSchedulerConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ProcessDueNow(ctx)
	require.NoError(t, err)
}

func TestPaymentScheduler_RecoversFromPanics(t *testing.T) {
	p := newMockProcessor()
	p.panicOnce.Store(true)
	s := newScheduler(t, p, DefaultSchedulerConfig(), nil)

	_, err := s.ProcessDueNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.False(t, s.IsRunning())

	_, err = s.ProcessDueNow(context.Background())
	assert.NoError(t, err, "next cycle proceeds")
	assert.Contains(t, s.GetStatus(context.Background()).LastError, "ledger client bug")
}

func TestPaymentScheduler_RecordsCycleErrors(t *testing.T) {
	p := newMockProcessor()
	p.err = errors.New("database unavailable")
	s := newScheduler(t, p, DefaultSchedulerConfig(), nil)

	_, err := s.ProcessDueNow(context.Background())
	require.Error(t, err)
	assert.Equal(t, "database unavailable", s.GetStatus(context.Background()).LastError)
}

func TestPaymentScheduler_StopWaitsForInFlightCycle(t *testing.T) {
	p := newMockProcessor()
	p.release = make(chan struct{})
	s := newScheduler(t, p, SchedulerConfig{CycleInterval: time.Hour, MaintenanceInterval: time.Hour}, nil)

	require.NoError(t, s.Start(context.Background()))
	<-p.entered

	short, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(short), context.DeadlineExceeded, "cycle still running")

	close(p.release)
	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())
}

func TestPaymentScheduler_StopWithoutStart(t *testing.T) {
	s := newScheduler(t, newMockProcessor(), DefaultSchedulerConfig(), nil)
	assert.NoError(t, s.Stop(context.Background()))
}

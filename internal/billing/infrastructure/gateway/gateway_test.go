package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

var request = domain.SettlementRequest{
	PayerID:        "alice",
	PayeeID:        "creator-1",
	Amount:         2_500,
	IdempotencyKey: "sub-1:1772366400",
}

func TestHTTPGateway_Settle(t *testing.T) {
	var got settlementRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/settlements", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, request.IdempotencyKey, r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"reference":"stl_123"}`))
	}))
	defer srv.Close()

	g, err := NewHTTPGateway(srv.URL+"/", "secret-token", srv.Client())
	require.NoError(t, err)

	ref, err := g.Settle(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementReference("stl_123"), ref)
	assert.Equal(t, settlementRequest{PayerID: "alice", PayeeID: "creator-1", Amount: 2_500, IdempotencyKey: request.IdempotencyKey}, got)
}

func TestHTTPGateway_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"insufficient funds", http.StatusPaymentRequired, `{"code":"insufficient_funds","message":"balance too low"}`, domain.ErrSettlementDeclined},
		{"conflict", http.StatusConflict, ``, domain.ErrSettlementDeclined},
		{"unprocessable", http.StatusUnprocessableEntity, `{"message":"bad account"}`, domain.ErrSettlementDeclined},
		{"server error", http.StatusInternalServerError, `oops`, domain.ErrGatewayUnavailable},
		{"throttled", http.StatusTooManyRequests, ``, domain.ErrGatewayUnavailable},
		{"missing reference", http.StatusOK, `{}`, domain.ErrGatewayUnavailable},
		{"garbage body", http.StatusOK, `not json`, domain.ErrGatewayUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g, err := NewHTTPGateway(srv.URL, "", srv.Client())
			require.NoError(t, err)

			_, err = g.Settle(context.Background(), request)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTPGateway_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	g, err := NewHTTPGateway(srv.URL, "", srv.Client())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Settle(ctx, request)
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewHTTPGateway_RequiresURL(t *testing.T) {
	_, err := NewHTTPGateway("  ", "", nil)
	assert.Error(t, err)
}

func TestLedgerGateway(t *testing.T) {
	l := NewLedgerGateway(5_000)

	ref, err := l.Settle(context.Background(), request)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.Equal(t, int64(2_500), l.Balance("alice"))
	assert.Equal(t, int64(7_500), l.Balance("creator-1"))

	again, err := l.Settle(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, ref, again, "same idempotency key")
	assert.Equal(t, int64(2_500), l.Balance("alice"), "no second debit")

	next := request
	next.IdempotencyKey = "sub-1:next"
	next.Amount = 3_000
	_, err = l.Settle(context.Background(), next)
	assert.ErrorIs(t, err, domain.ErrSettlementDeclined)

	l.Credit("alice", 1_000)
	_, err = l.Settle(context.Background(), next)
	require.NoError(t, err)
	assert.Equal(t, int64(500), l.Balance("alice"))
}

func TestLedgerGateway_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLedgerGateway(100).Settle(ctx, request)
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

type countingGateway struct {
	calls atomic.Int64
	err   error
}

func (g *countingGateway) Settle(context.Context, domain.SettlementRequest) (domain.SettlementReference, error) {
	g.calls.Add(1)
	if g.err != nil {
		return "", g.err
	}
	return "ok", nil
}

func TestResilientGateway_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &countingGateway{err: errors.Join(domain.ErrGatewayUnavailable, errors.New("connection refused"))}
	metrics := observability.NewInMemoryMetrics()
	g := NewResilientGateway(inner, BreakerConfig{MaxRequests: 1, Timeout: time.Hour, FailureThreshold: 3}, metrics, nil)

	for i := 0; i < 3; i++ {
		_, err := g.Settle(context.Background(), request)
		assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	}
	assert.Equal(t, "open", g.State())

	_, err := g.Settle(context.Background(), request)
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Equal(t, int64(3), inner.calls.Load(), "open breaker short-circuits")
	assert.Equal(t, float64(2), metrics.GetGauge(observability.MetricBreakerState, observability.T("breaker", "settlement-gateway")))
}

func TestResilientGateway_DeclinesKeepBreakerClosed(t *testing.T) {
	inner := &countingGateway{err: domain.ErrSettlementDeclined}
	g := NewResilientGateway(inner, BreakerConfig{MaxRequests: 1, Timeout: time.Hour, FailureThreshold: 2}, nil, nil)

	for i := 0; i < 5; i++ {
		_, err := g.Settle(context.Background(), request)
		assert.ErrorIs(t, err, domain.ErrSettlementDeclined)
	}
	assert.Equal(t, "closed", g.State())
	assert.Equal(t, int64(5), inner.calls.Load())
}

func TestResilientGateway_PassesThroughSuccess(t *testing.T) {
	g := NewResilientGateway(&countingGateway{}, DefaultBreakerConfig(), nil, nil)
	ref, err := g.Settle(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementReference("ok"), ref)
}

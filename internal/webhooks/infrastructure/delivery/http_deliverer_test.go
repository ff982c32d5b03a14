package delivery_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/circulum/internal/webhooks/domain"
	"github.com/felixgeelhaar/circulum/internal/webhooks/infrastructure/delivery"
	"github.com/felixgeelhaar/circulum/pkg/webhooksdk"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const secret = "whsec_0123456789abcdef0123"

type capturedRequest struct {
	method string
	header http.Header
	body   []byte
}

func receiver(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, capturedRequest{method: r.Method, header: r.Header.Clone(), body: b})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func endpoint(t *testing.T, url string) *domain.Endpoint {
	t.Helper()
	ep, err := domain.NewEndpoint(url, []string{"payment.processed"}, secret, t0)
	require.NoError(t, err)
	return ep
}

func event(t *testing.T) domain.Event {
	t.Helper()
	return eventAt(t, t0)
}

func eventAt(t *testing.T, at time.Time) domain.Event {
	t.Helper()
	ev, err := domain.NewEvent("payment.processed", map[string]any{"amount": 2500, "payment_number": 2}, at)
	require.NoError(t, err)
	return ev
}

func TestHTTPDeliverer_SignsAndPosts(t *testing.T) {
	srv, captured := receiver(t, http.StatusNoContent)
	sendAt := t0.Add(30 * time.Second)
	d := delivery.NewHTTPDeliverer(srv.Client()).WithClock(func() time.Time { return sendAt })
	ev := event(t)

	require.NoError(t, d.Deliver(context.Background(), endpoint(t, srv.URL+"/hooks"), ev))

	reqs := captured()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))
	assert.Equal(t, delivery.UserAgent, req.header.Get("User-Agent"))
	assert.Equal(t, "payment.processed", req.header.Get(delivery.HeaderEventType))
	assert.Equal(t, ev.ID.String(), req.header.Get(delivery.HeaderEventID))
	assert.Equal(t, strconv.FormatInt(sendAt.Unix(), 10), req.header.Get(delivery.HeaderTimestamp))
	assert.True(t, domain.VerifySignature(req.body, req.header.Get(delivery.HeaderSignature), secret))

	var decoded domain.Event
	require.NoError(t, decoded.UnmarshalJSON(req.body))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.JSONEq(t, string(ev.Payload), string(decoded.Payload))
}

func TestHTTPDeliverer_AcceptedByReceiverSDK(t *testing.T) {
	v := webhooksdk.NewVerifier(secret, webhooksdk.WithReplayGuard(webhooksdk.NewLRUGuard(8, time.Hour)))
	var (
		mu  sync.Mutex
		got []webhooksdk.Event
	)
	srv := httptest.NewServer(v.Handler(func(w http.ResponseWriter, _ *http.Request, ev webhooksdk.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := delivery.NewHTTPDeliverer(srv.Client())
	ev := eventAt(t, time.Now())
	ep := endpoint(t, srv.URL)
	require.NoError(t, d.Deliver(context.Background(), ep, ev))
	require.NoError(t, d.Deliver(context.Background(), ep, ev), "replays are acknowledged")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID.String(), got[0].ID)
	assert.Equal(t, ev.Timestamp.Unix(), got[0].Timestamp)
	assert.Equal(t, domain.SchemaVersion, got[0].SchemaVersion)

	ep.Secret = "whsec_not_the_receivers_secret"
	err := d.Deliver(context.Background(), ep, eventAt(t, time.Now()))
	assert.ErrorIs(t, err, domain.ErrDeliveryRejected)
}

func TestHTTPDeliverer_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "server error", status: http.StatusInternalServerError},
		{name: "gone", status: http.StatusGone},
		{name: "redirect", status: http.StatusNotModified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := receiver(t, tt.status)
			err := delivery.NewHTTPDeliverer(srv.Client()).Deliver(context.Background(), endpoint(t, srv.URL), event(t))
			assert.ErrorIs(t, err, domain.ErrDeliveryRejected)
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		srv, _ := receiver(t, http.StatusOK)
		url := srv.URL
		srv.Close()
		err := delivery.NewHTTPDeliverer(nil).Deliver(context.Background(), endpoint(t, url), event(t))
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrDeliveryRejected)
	})

	t.Run("context deadline", func(t *testing.T) {
		block := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-block:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(block)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := delivery.NewHTTPDeliverer(srv.Client()).Deliver(ctx, endpoint(t, srv.URL), event(t))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

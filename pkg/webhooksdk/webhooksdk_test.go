package webhooksdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/felixgeelhaar/circulum/internal/webhooks/domain"
	"github.com/felixgeelhaar/circulum/internal/webhooks/infrastructure/delivery"
	"github.com/felixgeelhaar/circulum/pkg/webhooksdk"
)

const secret = "whsec_test_secret_value"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func body(id string) []byte {
	return []byte(`{"id":"` + id + `","type":"payment.processed","payload":{"amount":2500},"timestamp":1772366400,"schema_version":1}`)
}

func ts(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }

func newVerifier(opts ...webhooksdk.Option) *webhooksdk.Verifier {
	return webhooksdk.NewVerifier(secret, append([]webhooksdk.Option{webhooksdk.WithClock(func() time.Time { return now })}, opts...)...)
}

func TestVerify(t *testing.T) {
	b := body("evt-1")
	good := webhooksdk.Sign(b, secret)

	tests := []struct {
		name      string
		body      []byte
		signature string
		timestamp string
		wantErr   error
	}{
		{name: "valid", body: b, signature: good, timestamp: ts(now)},
		{name: "valid at tolerance edge", body: b, signature: good, timestamp: ts(now.Add(-300 * time.Second))},
		{name: "future within tolerance", body: b, signature: good, timestamp: ts(now.Add(299 * time.Second))},
		{name: "stale", body: b, signature: good, timestamp: ts(now.Add(-301 * time.Second)), wantErr: webhooksdk.ErrTimestampSkew},
		{name: "too far ahead", body: b, signature: good, timestamp: ts(now.Add(10 * time.Minute)), wantErr: webhooksdk.ErrTimestampSkew},
		{name: "garbage timestamp", body: b, signature: good, timestamp: "yesterday", wantErr: webhooksdk.ErrTimestampSkew},
		{name: "missing signature", body: b, timestamp: ts(now), wantErr: webhooksdk.ErrMissingHeader},
		{name: "missing timestamp", body: b, signature: good, wantErr: webhooksdk.ErrMissingHeader},
		{name: "wrong secret", body: b, signature: webhooksdk.Sign(b, "other-secret-value"), timestamp: ts(now), wantErr: webhooksdk.ErrInvalidSignature},
		{name: "tampered body", body: body("evt-2"), signature: good, timestamp: ts(now), wantErr: webhooksdk.ErrInvalidSignature},
		{name: "no prefix", body: b, signature: strings.TrimPrefix(good, "sha256="), timestamp: ts(now), wantErr: webhooksdk.ErrInvalidSignature},
		{name: "not hex", body: b, signature: "sha256=zz", timestamp: ts(now), wantErr: webhooksdk.ErrInvalidSignature},
		{name: "signed junk", body: []byte("[]"), signature: webhooksdk.Sign([]byte("[]"), secret), timestamp: ts(now), wantErr: webhooksdk.ErrMalformedEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := newVerifier().Verify(context.Background(), tt.body, tt.signature, tt.timestamp)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "evt-1", ev.ID)
			assert.Equal(t, "payment.processed", ev.Type)
			assert.Equal(t, 1, ev.SchemaVersion)
			assert.JSONEq(t, `{"amount":2500}`, string(ev.Payload))
		})
	}
}

func TestVerify_RejectsReplay(t *testing.T) {
	v := newVerifier(webhooksdk.WithReplayGuard(webhooksdk.NewLRUGuard(16, time.Hour)))
	b := body("evt-1")
	sig := webhooksdk.Sign(b, secret)

	_, err := v.Verify(context.Background(), b, sig, ts(now))
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), b, sig, ts(now))
	assert.ErrorIs(t, err, webhooksdk.ErrReplayed)
}

func TestVerify_BadSignatureDoesNotTouchGuard(t *testing.T) {
	guard := webhooksdk.NewLRUGuard(16, time.Hour)
	v := newVerifier(webhooksdk.WithReplayGuard(guard))
	b := body("evt-1")

	_, err := v.Verify(context.Background(), b, webhooksdk.Sign(b, "attacker-guess-000"), ts(now))
	require.ErrorIs(t, err, webhooksdk.ErrInvalidSignature)

	_, err = v.Verify(context.Background(), b, webhooksdk.Sign(b, secret), ts(now))
	assert.NoError(t, err)
}

func TestWithTolerance(t *testing.T) {
	v := newVerifier(webhooksdk.WithTolerance(10 * time.Second))
	b := body("evt-1")

	_, err := v.Verify(context.Background(), b, webhooksdk.Sign(b, secret), ts(now.Add(-11*time.Second)))
	assert.ErrorIs(t, err, webhooksdk.ErrTimestampSkew)
}

func TestVerify_ChecksSignedTimestamp(t *testing.T) {
	b := body("evt-1")
	sig := webhooksdk.Sign(b, secret)

	t.Run("old body under a fresh header", func(t *testing.T) {
		later := now.Add(2 * time.Hour)
		v := webhooksdk.NewVerifier(secret, webhooksdk.WithClock(func() time.Time { return later }))
		_, err := v.Verify(context.Background(), b, sig, ts(later))
		assert.ErrorIs(t, err, webhooksdk.ErrTimestampSkew)
	})

	t.Run("within max age", func(t *testing.T) {
		later := now.Add(50 * time.Minute)
		v := webhooksdk.NewVerifier(secret, webhooksdk.WithClock(func() time.Time { return later }))
		_, err := v.Verify(context.Background(), b, sig, ts(later))
		assert.NoError(t, err)
	})

	t.Run("custom max age", func(t *testing.T) {
		later := now.Add(2 * time.Hour)
		v := webhooksdk.NewVerifier(secret,
			webhooksdk.WithClock(func() time.Time { return later }),
			webhooksdk.WithMaxEventAge(3*time.Hour))
		_, err := v.Verify(context.Background(), b, sig, ts(later))
		assert.NoError(t, err)
	})

	t.Run("event dated in the future", func(t *testing.T) {
		earlier := now.Add(-10 * time.Minute)
		v := webhooksdk.NewVerifier(secret, webhooksdk.WithClock(func() time.Time { return earlier }))
		_, err := v.Verify(context.Background(), b, sig, ts(earlier))
		assert.ErrorIs(t, err, webhooksdk.ErrTimestampSkew)
	})
}

func TestSign_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.StringN(16, 64, -1).Draw(t, "secret")
		id := rapid.StringMatching(`[a-z0-9-]{1,36}`).Draw(t, "id")
		b := []byte(`{"id":"` + id + `","type":"plan.created","payload":{},"timestamp":1772366400,"schema_version":1}`)

		v := webhooksdk.NewVerifier(key, webhooksdk.WithClock(func() time.Time { return now }))
		ev, err := v.Verify(context.Background(), b, webhooksdk.Sign(b, key), ts(now))
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if ev.ID != id {
			t.Fatalf("id = %q, want %q", ev.ID, id)
		}

		flipped := append([]byte(nil), b...)
		flipped[len(flipped)-2] ^= 0x01
		if _, err := v.Verify(context.Background(), flipped, webhooksdk.Sign(b, key), ts(now)); !errors.Is(err, webhooksdk.ErrInvalidSignature) {
			t.Fatalf("tampered body accepted: %v", err)
		}
	})
}

// The sdk keeps its own copy of the signing scheme so receivers do not pull
// in server packages. These pin it to what the sender produces.
func TestSign_MatchesSender(t *testing.T) {
	assert.Equal(t, delivery.HeaderSignature, webhooksdk.HeaderSignature)
	assert.Equal(t, delivery.HeaderTimestamp, webhooksdk.HeaderTimestamp)
	assert.Equal(t, delivery.HeaderEventType, webhooksdk.HeaderEventType)
	assert.Equal(t, delivery.HeaderEventID, webhooksdk.HeaderEventID)

	rapid.Check(t, func(t *rapid.T) {
		key := rapid.String().Draw(t, "secret")
		payload := rapid.SliceOf(rapid.Byte()).Draw(t, "payload")

		sig := webhooksdk.Sign(payload, key)
		if want := domain.Sign(payload, key); sig != want {
			t.Fatalf("sign = %q, sender signs %q", sig, want)
		}
		if !domain.VerifySignature(payload, sig, key) {
			t.Fatalf("sender rejects sdk signature %q", sig)
		}
	})
}

func TestVerify_AcceptsSenderSignature(t *testing.T) {
	b := body("evt-1")
	_, err := newVerifier().Verify(context.Background(), b, domain.Sign(b, secret), ts(now))
	assert.NoError(t, err)

	_, err = newVerifier().Verify(context.Background(), b, domain.Sign(b, "other-secret-value"), ts(now))
	assert.ErrorIs(t, err, webhooksdk.ErrInvalidSignature)
}

func TestHandler(t *testing.T) {
	var (
		mu       sync.Mutex
		received []string
	)
	v := newVerifier(webhooksdk.WithReplayGuard(webhooksdk.NewLRUGuard(16, time.Hour)))
	srv := httptest.NewServer(v.Handler(func(w http.ResponseWriter, r *http.Request, ev webhooksdk.Event) {
		mu.Lock()
		received = append(received, ev.ID)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	post := func(t *testing.T, b []byte, sig string) int {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(string(b)))
		require.NoError(t, err)
		req.Header.Set(webhooksdk.HeaderSignature, sig)
		req.Header.Set(webhooksdk.HeaderTimestamp, ts(now))
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	b := body("evt-1")
	assert.Equal(t, http.StatusNoContent, post(t, b, webhooksdk.Sign(b, secret)))
	assert.Equal(t, http.StatusOK, post(t, b, webhooksdk.Sign(b, secret)), "replay is acknowledged")
	assert.Equal(t, http.StatusUnauthorized, post(t, body("evt-2"), webhooksdk.Sign(b, secret)))
	assert.Equal(t, http.StatusBadRequest, post(t, []byte("{}"), webhooksdk.Sign([]byte("{}"), secret)))

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"evt-1"}, received)
}

func TestLRUGuard_Expires(t *testing.T) {
	g := webhooksdk.NewLRUGuard(16, 20*time.Millisecond)
	ctx := context.Background()

	seen, err := g.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)
	seen, err = g.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	require.Eventually(t, func() bool {
		seen, _ := g.Seen(ctx, "evt-1")
		return !seen
	}, time.Second, 10*time.Millisecond)
}

func TestLRUGuard_EvictsOldest(t *testing.T) {
	g := webhooksdk.NewLRUGuard(2, time.Hour)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := g.Seen(ctx, id)
		require.NoError(t, err)
	}
	seen, err := g.Seen(ctx, "a")
	require.NoError(t, err)
	assert.False(t, seen)
}

type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]time.Duration
	err  error
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ any, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func TestRedisGuard(t *testing.T) {
	ctx := context.Background()
	fake := &fakeRedis{keys: make(map[string]time.Duration)}
	g := webhooksdk.NewRedisGuard(fake, "", time.Hour)

	seen, err := g.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)
	seen, err = g.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, time.Hour, fake.keys[webhooksdk.DefaultRedisPrefix+"evt-1"])

	fake.err = errors.New("connection refused")
	_, err = g.Seen(ctx, "evt-2")
	assert.Error(t, err)

	v := newVerifier(webhooksdk.WithReplayGuard(g))
	b := body("evt-3")
	_, err = v.Verify(ctx, b, webhooksdk.Sign(b, secret), ts(now))
	assert.ErrorContains(t, err, "replay guard")
}

func TestRedisGuard_LiveServer(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	id := uuid.NewString()
	g := webhooksdk.NewRedisGuard(client, "circulum:test:", time.Minute)
	defer client.Del(ctx, "circulum:test:"+id)

	seen, err := g.Seen(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen)
	seen, err = g.Seen(ctx, id)
	require.NoError(t, err)
	assert.True(t, seen)
}

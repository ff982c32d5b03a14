// Package webhooksdk verifies circulum webhook deliveries on the receiving side.
//
//	v := webhooksdk.NewVerifier(secret, webhooksdk.WithReplayGuard(webhooksdk.NewLRUGuard(10_000, time.Hour)))
//	http.Handle("/hooks", v.Handler(func(w http.ResponseWriter, r *http.Request, ev webhooksdk.Event) {
//		// handle ev
//	}))
package webhooksdk

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Headers set by the sender.
const (
	HeaderSignature = "X-Circulum-Signature"
	HeaderTimestamp = "X-Circulum-Timestamp"
	HeaderEventType = "X-Circulum-Event-Type"
	HeaderEventID   = "X-Circulum-Event-Id"
)

// DefaultTolerance is the accepted clock difference between sender and receiver.
const DefaultTolerance = 300 * time.Second

// DefaultMaxEventAge bounds how long after its signed timestamp an event is
// accepted. The header timestamp is not signed, so this is what stops an old
// body from being resent under a fresh header.
const DefaultMaxEventAge = time.Hour

// MaxBodyBytes caps the request body read by VerifyRequest.
const MaxBodyBytes = 1 << 20

const signaturePrefix = "sha256="

var (
	// ErrMissingHeader is returned when the signature or timestamp header is absent.
	ErrMissingHeader = errors.New("webhook signature headers missing")
	// ErrTimestampSkew is returned when the timestamp is outside the tolerance.
	ErrTimestampSkew = errors.New("webhook timestamp outside tolerance")
	// ErrInvalidSignature is returned when the body does not match the signature.
	ErrInvalidSignature = errors.New("webhook signature invalid")
	// ErrReplayed is returned for an event id that was already accepted.
	ErrReplayed = errors.New("webhook event already received")
	// ErrMalformedEvent is returned when a signed body is not a valid event.
	ErrMalformedEvent = errors.New("webhook body is not a valid event")
)

// Event is a delivered event as seen by a receiver.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     int64           `json:"timestamp"`
	SchemaVersion int             `json:"schema_version"`
}

// ReplayGuard remembers accepted event ids.
type ReplayGuard interface {
	// Seen records id and reports whether it had been recorded before.
	Seen(ctx context.Context, id string) (bool, error)
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithTolerance sets the allowed timestamp skew.
func WithTolerance(d time.Duration) Option {
	return func(v *Verifier) { v.tolerance = d }
}

// WithMaxEventAge sets how old the signed event timestamp may be.
func WithMaxEventAge(d time.Duration) Option {
	return func(v *Verifier) { v.maxAge = d }
}

// WithReplayGuard rejects event ids the guard has already seen.
func WithReplayGuard(g ReplayGuard) Option {
	return func(v *Verifier) { v.guard = g }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// Verifier checks the signature, timestamp and, optionally, uniqueness of deliveries.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	maxAge    time.Duration
	guard     ReplayGuard
	now       func() time.Time
}

// NewVerifier creates a verifier for one endpoint secret.
func NewVerifier(secret string, opts ...Option) *Verifier {
	v := &Verifier{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		maxAge:    DefaultMaxEventAge,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Sign computes the signature header value for body. Senders and tests use it.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks one delivery and decodes its event. The replay guard is
// consulted only after the signature holds.
func (v *Verifier) Verify(ctx context.Context, body []byte, signature, timestamp string) (Event, error) {
	if signature == "" || timestamp == "" {
		return Event{}, ErrMissingHeader
	}

	sent, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: bad timestamp %q", ErrTimestampSkew, timestamp)
	}
	now := v.now()
	skew := now.Sub(time.Unix(sent, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return Event{}, fmt.Errorf("%w: %s", ErrTimestampSkew, skew.Truncate(time.Second))
	}

	if !v.validSignature(body, signature) {
		return Event{}, ErrInvalidSignature
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil || ev.ID == "" {
		return Event{}, ErrMalformedEvent
	}
	age := now.Sub(time.Unix(ev.Timestamp, 0))
	if age > v.maxAge || -age > v.tolerance {
		return Event{}, fmt.Errorf("%w: event timestamp %s off", ErrTimestampSkew, age.Truncate(time.Second))
	}

	if v.guard != nil {
		seen, err := v.guard.Seen(ctx, ev.ID)
		if err != nil {
			return Event{}, fmt.Errorf("replay guard: %w", err)
		}
		if seen {
			return Event{}, ErrReplayed
		}
	}
	return ev, nil
}

func (v *Verifier) validSignature(body []byte, signature string) bool {
	hexSig, ok := strings.CutPrefix(signature, signaturePrefix)
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// VerifyRequest reads the request body and verifies it.
func (v *Verifier) VerifyRequest(r *http.Request) (Event, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		return Event{}, fmt.Errorf("read webhook body: %w", err)
	}
	return v.Verify(r.Context(), body, r.Header.Get(HeaderSignature), r.Header.Get(HeaderTimestamp))
}

// Handler verifies each request before calling fn. Failed checks answer 401,
// replays answer 200 without calling fn, malformed bodies answer 400.
func (v *Verifier) Handler(fn func(http.ResponseWriter, *http.Request, Event)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ev, err := v.VerifyRequest(r)
		switch {
		case err == nil:
			fn(w, r, ev)
		case errors.Is(err, ErrReplayed):
			w.WriteHeader(http.StatusOK)
		case errors.Is(err, ErrMalformedEvent):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrMissingHeader), errors.Is(err, ErrTimestampSkew), errors.Is(err, ErrInvalidSignature):
			http.Error(w, err.Error(), http.StatusUnauthorized)
		default:
			http.Error(w, "webhook verification failed", http.StatusInternalServerError)
		}
	})
}

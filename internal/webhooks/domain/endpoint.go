package domain

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultDisableThreshold is the consecutive failure count that disables an endpoint.
const DefaultDisableThreshold = 5

// MinSecretLength is the shortest secret accepted at registration.
const MinSecretLength = 16

// Endpoint is a registered webhook receiver.
type Endpoint struct {
	ID                  uuid.UUID
	URL                 string
	EventTypes          []string
	Secret              string
	Active              bool
	ConsecutiveFailures int
	LastDeliveryAttempt *time.Time
	CreatedAt           time.Time
}

// NewEndpoint validates and creates an active endpoint.
func NewEndpoint(rawURL string, eventTypes []string, secret string, at time.Time) (*Endpoint, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	types := normalizeTypes(eventTypes)
	if len(types) == 0 {
		return nil, ErrNoEventTypes
	}
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	return &Endpoint{
		ID:         uuid.New(),
		URL:        rawURL,
		EventTypes: types,
		Secret:     secret,
		Active:     true,
		CreatedAt:  at.UTC(),
	}, nil
}

// ValidateURL accepts absolute http and https urls with a host.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidURL
	}
	return nil
}

func normalizeTypes(types []string) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.TrimSpace(t)
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out
}

// Subscribes reports whether the endpoint wants events of eventType.
func (e *Endpoint) Subscribes(eventType string) bool {
	return slices.Contains(e.EventTypes, eventType)
}

// Redacted returns a copy without the secret.
func (e *Endpoint) Redacted() Endpoint {
	c := *e
	c.Secret = ""
	c.EventTypes = slices.Clone(e.EventTypes)
	return c
}

// DeliveryHealth is an endpoint's state after a delivery outcome was recorded.
type DeliveryHealth struct {
	ConsecutiveFailures int
	Active              bool
	// JustDisabled is set only when this failure moved the endpoint from
	// active to inactive. An endpoint an operator already turned off stays false.
	JustDisabled bool
}

// Disabled reports whether the recorded failure turned the endpoint off.
func (h DeliveryHealth) Disabled() bool {
	return h.JustDisabled
}

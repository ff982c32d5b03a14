// Package delivery posts signed webhook events over HTTP.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/felixgeelhaar/circulum/internal/webhooks/domain"
)

// Headers set on every delivery.
const (
	HeaderSignature = "X-Circulum-Signature"
	HeaderTimestamp = "X-Circulum-Timestamp"
	HeaderEventType = "X-Circulum-Event-Type"
	HeaderEventID   = "X-Circulum-Event-Id"
	UserAgent       = "circulum-webhooks/1"
)

const tracerName = "github.com/felixgeelhaar/circulum/internal/webhooks/infrastructure/delivery"

// DefaultHTTPTimeout applies when no client is supplied. The bus also bounds
// each delivery through ctx.
const DefaultHTTPTimeout = 10 * time.Second

// HTTPDeliverer POSTs the event's wire JSON to the endpoint URL, signed with
// the endpoint secret.
type HTTPDeliverer struct {
	client *http.Client
	tracer trace.Tracer
	now    sharedDomain.Clock
}

// NewHTTPDeliverer creates a deliverer. A nil client gets DefaultHTTPTimeout.
func NewHTTPDeliverer(client *http.Client) *HTTPDeliverer {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPDeliverer{
		client: client,
		tracer: otel.Tracer(tracerName),
		now:    sharedDomain.SystemClock,
	}
}

// WithClock replaces the clock used for the timestamp header.
func (d *HTTPDeliverer) WithClock(clock sharedDomain.Clock) *HTTPDeliverer {
	d.now = clock
	return d
}

// Deliver sends one event. Any transport error or non-2xx answer fails the delivery.
func (d *HTTPDeliverer) Deliver(ctx context.Context, ep *domain.Endpoint, ev domain.Event) (err error) {
	ctx, span := d.tracer.Start(ctx, "webhooks.deliver", trace.WithAttributes(
		attribute.String("webhook.endpoint_id", ep.ID.String()),
		attribute.String("webhook.event_id", ev.ID.String()),
		attribute.String("webhook.event_type", ev.Type),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(HeaderSignature, domain.Sign(body, ep.Secret))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(d.now().Unix(), 10))
	req.Header.Set(HeaderEventType, ev.Type)
	req.Header.Set(HeaderEventID, ev.ID.String())

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", ep.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", domain.ErrDeliveryRejected, resp.StatusCode)
	}
	return nil
}

package domain

import "errors"

var (
	ErrEndpointNotFound  = errors.New("webhook endpoint not found")
	ErrInvalidURL        = errors.New("webhook url must be an absolute http or https url")
	ErrNoEventTypes      = errors.New("webhook endpoint must subscribe to at least one event type")
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrSecretTooShort    = errors.New("webhook secret must be at least 16 characters")
	ErrEmptyEventType    = errors.New("event type cannot be empty")
	ErrDeliveryRejected  = errors.New("webhook delivery rejected")
	ErrInvalidEndpointID = errors.New("invalid webhook endpoint id")
)

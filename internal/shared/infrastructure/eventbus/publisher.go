// Package eventbus mirrors domain events onto a message broker.
package eventbus

import (
	"context"
	"time"
)

// Message is one event handed to the broker.
type Message struct {
	// ID becomes the AMQP message id so consumers can deduplicate.
	ID         string
	RoutingKey string
	Body       []byte
	Timestamp  time.Time
}

// Publisher sends messages to a broker.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

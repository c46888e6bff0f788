package messaging

import (
	"context"
	"errors"
)

// ErrClosed is returned by a broker after Close.
var ErrClosed = errors.New("broker is closed")

// Handler processes one message. A non-nil error tells the broker the
// message was not handled; what happens next is driver specific.
type Handler func(ctx context.Context, payload []byte) error

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Consume blocks, feeding messages to handler until ctx is done.
	Consume(ctx context.Context, topic string, handler Handler) error
	Close() error
}

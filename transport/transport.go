package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/guseggert/clusterclient/protocol"
)

// ErrClosed is returned by Send after the transport was closed.
var ErrClosed = errors.New("transport closed")

// Listener receives inbound envelopes. It runs on the transport's read goroutine, so it must not block.
type Listener func(env protocol.Envelope)

// Subscription identifies a registered Listener.
type Subscription uint64

// Transport sends envelopes to the parent and delivers envelopes from it.
type Transport interface {
	// Send sends one envelope. Depending on the implementation it returns once the write completed,
	// or immediately when the underlying channel has no delivery acknowledgment.
	Send(ctx context.Context, env protocol.Envelope) error

	Subscribe(l Listener) Subscription
	Unsubscribe(s Subscription)

	// Close stops the transport. Done is closed once the read goroutine has exited.
	Close() error
	Done() <-chan struct{}
}

// TransportError is returned when the underlying channel failed to write an envelope.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %s", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

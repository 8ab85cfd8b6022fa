package ports

import (
	"context"

	"github.com/aretw0/kiln/pkg/protocol"
)

// Transport is a reliable, ordered, bidirectional message channel to one
// running kernel process.
//
// Contract:
//   - Send must not silently drop a request: it returns the matching reply
//     or an error. Closing the transport unblocks pending Send calls with
//     domain.ErrDisconnected rather than hanging.
//   - Subscribe multiplexes push messages exactly by parent request ID;
//     a push belonging to request A is never delivered to a subscriber
//     waiting on request B.
//   - Pushes for a single request ID are delivered in kernel-emission
//     order. Delivery is buffered, never dropped; slow consumers drain at
//     their own pace.
type Transport interface {
	// Send submits a request on the shell channel and blocks until its
	// reply arrives, the context is done, or the transport closes.
	Send(ctx context.Context, msg *protocol.Message) (*protocol.Message, error)

	// Control submits a request on the control channel (interrupt,
	// shutdown) with the same semantics as Send.
	Control(ctx context.Context, msg *protocol.Message) (*protocol.Message, error)

	// Subscribe returns the push messages whose parent header matches
	// requestID. The channel closes when the transport closes or the
	// returned cancel function is called.
	Subscribe(requestID string) (<-chan *protocol.Message, func())

	// Alive reports whether the transport is still usable.
	Alive() bool

	// Close releases the channel. Idempotent.
	Close() error
}

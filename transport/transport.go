// Package transport defines the message-socket capability the client
// drives: framed two-part send/receive, short-timeout polling and a
// caller-assigned identity. Adapters for real sockets live in the
// subpackages; Pipe provides a connected in-process pair for tests and
// embedding.
package transport

import (
	"errors"
	"time"
)

var (
	// ErrTimeout reports that a send, receive or poll deadline passed.
	ErrTimeout = errors.New("transport: operation timed out")
	// ErrClosed reports use of a closed transport.
	ErrClosed = errors.New("transport: closed")
)

// Transport is a dealer-style message socket. Implementations queue
// whole two-part messages; parts of one message never interleave with
// another. A Transport is driven by one goroutine at a time except for
// Close, which may be called from anywhere to abort blocked calls.
type Transport interface {
	// SetIdentity assigns the socket identity presented to the peer.
	// Must be called before Connect.
	SetIdentity(id []byte)

	// Connect dials the peer address.
	Connect(addr string) error

	// Send transmits one two-part message, blocking at most the send
	// timeout. The slices are consumed before Send returns.
	Send(control, payload []byte) error

	// Recv blocks for the next two-part message, at most the receive
	// timeout.
	Recv() (control, payload []byte, err error)

	// Poll reports whether a message is ready to read and whether a send
	// would be accepted, blocking at most timeout when neither holds.
	Poll(timeout time.Duration) (readable, writable bool, err error)

	// SetSendTimeout and SetRecvTimeout bound Send and Recv. A zero or
	// negative duration blocks indefinitely.
	SetSendTimeout(d time.Duration)
	SetRecvTimeout(d time.Duration)

	// Close discards queued messages and aborts blocked calls.
	Close() error
}

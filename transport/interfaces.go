// Package transport provides frame transports and the acknowledgment
// bookkeeping that makes a lossy transport reliable
package transport

import (
	"errors"
	"time"

	"github.com/najoast/rcall/wire"
)

var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrTimeout is returned by Receive when its implementation
	// timeout elapses without a frame. Callers use the window to
	// observe shutdown and call Receive again.
	ErrTimeout = errors.New("transport: receive timeout")

	// ErrSendFailed is returned when the underlying medium rejected
	// a send. The transport never retries internally.
	ErrSendFailed = errors.New("transport: send failed")
)

// Transport is a raw port moving complete frames. Implementations are
// dumb: no retries, no acknowledgments, no ordering beyond what the
// medium provides. Reliability is layered on top by Reliable.
type Transport interface {
	// Send transmits one encoded frame. It must be non-blocking or
	// short-blocking and must not retry internally.
	Send(frame []byte) error

	// Receive blocks until a valid frame arrives, its implementation
	// timeout elapses (ErrTimeout), or the transport is closed
	// (ErrClosed). Frames failing marker, length, or CRC validation
	// are dropped silently and never surface.
	Receive() (wire.Header, []byte, error)

	// Close shuts the transport down. It is idempotent.
	Close() error
}

// Status classifies the outcome of a tracked send.
type Status int

const (
	// StatusSuccess: the matching ACK arrived.
	StatusSuccess Status = iota

	// StatusSendFail: the underlying medium rejected a send.
	StatusSendFail

	// StatusTimeout: no ACK within the monitor's window.
	StatusTimeout

	// StatusRetryExhausted: the retry budget is spent; terminal,
	// reported exactly once per frame.
	StatusRetryExhausted
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSendFail:
		return "send_fail"
	case StatusTimeout:
		return "timeout"
	case StatusRetryExhausted:
		return "retry_exhausted"
	default:
		return "unknown"
	}
}

// StatusEvent describes a delivery outcome for one tracked frame.
type StatusEvent struct {
	Dest   wire.DestID
	Seq    uint16
	Status Status
}

// StatusHandler consumes status events. Handlers run outside any
// monitor lock; canceling the subscription from inside the handler is
// safe.
type StatusHandler func(StatusEvent)

// Record tracks one unacknowledged send. Records are owned exclusively
// by the Monitor and distinguished strictly by sequence number;
// multiple records may share a destination id.
type Record struct {
	Dest    wire.DestID
	Seq     uint16
	SentAt  time.Time
	Retries int
}

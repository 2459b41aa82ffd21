package transport

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/najoast/rcall/wire"
)

// PipeTransport is an in-process Transport half. Two halves created by
// Pipe are cross-connected: frames sent on one are received on the
// other. It exists for tests and single-process demos, and can inject
// loss to exercise the reliability layer.
type PipeTransport struct {
	name   string
	logger *slog.Logger

	in   chan []byte
	peer chan []byte

	recvTimeout time.Duration

	// drop, when set, is consulted before each send; returning true
	// discards the frame to simulate a lossy medium.
	drop atomic.Pointer[func(frame []byte) bool]

	closed    chan struct{}
	closeOnce sync.Once
}

// Pipe creates a cross-connected pair of in-process transports.
func Pipe(queueSize int, recvTimeout time.Duration) (*PipeTransport, *PipeTransport) {
	if queueSize <= 0 {
		queueSize = 64
	}
	if recvTimeout <= 0 {
		recvTimeout = 100 * time.Millisecond
	}

	ab := make(chan []byte, queueSize)
	ba := make(chan []byte, queueSize)

	a := &PipeTransport{
		name:        "pipe-a",
		logger:      slog.Default(),
		in:          ba,
		peer:        ab,
		recvTimeout: recvTimeout,
		closed:      make(chan struct{}),
	}
	b := &PipeTransport{
		name:        "pipe-b",
		logger:      slog.Default(),
		in:          ab,
		peer:        ba,
		recvTimeout: recvTimeout,
		closed:      make(chan struct{}),
	}
	return a, b
}

// SetDrop installs a loss-injection hook. Passing nil restores
// lossless behavior.
func (p *PipeTransport) SetDrop(fn func(frame []byte) bool) {
	if fn == nil {
		p.drop.Store(nil)
		return
	}
	p.drop.Store(&fn)
}

// Send delivers one frame to the peer half. A full peer queue drops
// the frame, matching datagram semantics.
func (p *PipeTransport) Send(frame []byte) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	if fn := p.drop.Load(); fn != nil && (*fn)(frame) {
		return nil
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)

	select {
	case p.peer <- buf:
		return nil
	default:
		p.logger.Debug("pipe queue full, frame dropped", "pipe", p.name)
		return nil
	}
}

// Receive blocks for the next valid frame, ErrTimeout after the
// configured window, or ErrClosed.
func (p *PipeTransport) Receive() (wire.Header, []byte, error) {
	timer := time.NewTimer(p.recvTimeout)
	defer timer.Stop()

	for {
		select {
		case <-p.closed:
			return wire.Header{}, nil, ErrClosed
		case buf := <-p.in:
			h, payload, err := wire.DecodeFrame(buf)
			if err != nil {
				// Framing errors are dropped, never surfaced.
				p.logger.Debug("dropping invalid frame", "pipe", p.name, "error", err)
				continue
			}
			return h, payload, nil
		case <-timer.C:
			return wire.Header{}, nil, ErrTimeout
		}
	}
}

// Close shuts this half down. Idempotent; the peer half keeps its own
// lifecycle.
func (p *PipeTransport) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	return nil
}

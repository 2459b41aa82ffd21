package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/najoast/rcall/wire"
)

// TCPConfig configures a TCP stream transport.
type TCPConfig struct {
	// ReadTimeout bounds each blocking read so shutdown is observable
	ReadTimeout time.Duration

	// WriteTimeout bounds each frame write
	WriteTimeout time.Duration

	// Logger receives transport events; nil means slog.Default
	Logger *slog.Logger

	// MetricSink receives transport metrics; nil means metrics.Default
	MetricSink metrics.MetricSink
}

// DefaultTCPConfig returns the default TCP transport configuration.
func DefaultTCPConfig() TCPConfig {
	return TCPConfig{
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
}

// TCPTransport moves frames over an established TCP connection. The
// stream is a plain concatenation of frames; the fixed header's length
// field tells the reader how many payload bytes to expect, and the
// marker lets it detect a desynchronized stream, which is fatal for a
// connection-oriented transport.
type TCPTransport struct {
	conn   net.Conn
	cfg    TCPConfig
	logger *slog.Logger
	msink  metrics.MetricSink

	// writeMu serializes frame writes so interleaved sends cannot
	// corrupt the stream.
	writeMu sync.Mutex

	// readBuf accumulates the frame currently being read; buffered is
	// how many of its bytes have arrived. Both belong to the single
	// goroutine calling Receive.
	readBuf  []byte
	buffered int

	closed    chan struct{}
	closeOnce sync.Once
}

// NewTCP wraps an established connection. Dialing and accepting are
// the caller's concern.
func NewTCP(conn net.Conn, cfg TCPConfig) *TCPTransport {
	def := DefaultTCPConfig()
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	msink := cfg.MetricSink
	if msink == nil {
		msink = metrics.Default()
	}

	return &TCPTransport{
		conn:    conn,
		cfg:     cfg,
		logger:  logger.With("remote", conn.RemoteAddr().String()),
		msink:   msink,
		readBuf: make([]byte, wire.MaxFrameSize),
		closed:  make(chan struct{}),
	}
}

// LocalAddr returns the connection's local address.
func (t *TCPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Send writes one complete frame to the stream.
func (t *TCPTransport) Send(frame []byte) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.cfg.WriteTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}

	if _, err := t.conn.Write(frame); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	t.msink.IncrCounter(MetricFramesOut, 1)
	t.msink.IncrCounter(MetricBytesOut, float32(len(frame)))
	return nil
}

// Receive reads the next frame off the stream: fixed header first,
// then the declared payload and checksum. Frame assembly is stateful:
// a deadline expiry mid-frame returns ErrTimeout with the bytes read
// so far kept in the buffer, and the next call resumes where this one
// left off. A bad marker means the stream is desynchronized and the
// connection is torn down; a bad checksum only drops the frame.
func (t *TCPTransport) Receive() (wire.Header, []byte, error) {
	for {
		select {
		case <-t.closed:
			return wire.Header{}, nil, ErrClosed
		default:
		}

		if t.cfg.ReadTimeout > 0 {
			t.conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		}

		if err := t.fill(wire.HeaderSize); err != nil {
			return wire.Header{}, nil, t.readErr(err)
		}

		h, err := wire.DecodeHeader(t.readBuf[:wire.HeaderSize])
		if err != nil {
			// Past this point byte boundaries are unknown; the only
			// safe recovery is reconnecting.
			t.logger.Warn("stream desynchronized, closing", "error", err)
			t.Close()
			return wire.Header{}, nil, ErrClosed
		}

		total := wire.HeaderSize + int(h.Length) + wire.ChecksumSize
		if err := t.fill(total); err != nil {
			return wire.Header{}, nil, t.readErr(err)
		}
		t.buffered = 0

		h, payload, err := wire.DecodeFrame(t.readBuf[:total])
		if err != nil {
			t.msink.IncrCounter(MetricFramingDrops, 1)
			t.logger.Debug("dropping corrupt frame", "error", err)
			continue
		}

		t.msink.IncrCounter(MetricFramesIn, 1)
		t.msink.IncrCounter(MetricBytesIn, float32(total))
		return h, payload, nil
	}
}

// Close shuts the connection down. It is idempotent.
func (t *TCPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

// fill reads until target bytes of the current frame are buffered.
// Progress survives a deadline expiry: the bytes already read stay in
// readBuf and the next Receive call resumes from them, so a slowly
// arriving frame costs extra ErrTimeout returns but is never lost.
func (t *TCPTransport) fill(target int) error {
	for t.buffered < target {
		n, err := t.conn.Read(t.readBuf[t.buffered:target])
		t.buffered += n
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return errTimeoutSentinel
			}
			return err
		}
	}
	return nil
}

var errTimeoutSentinel = errors.New("tcp read deadline")

func (t *TCPTransport) readErr(err error) error {
	switch {
	case err == errTimeoutSentinel:
		return ErrTimeout
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		t.Close()
		return ErrClosed
	default:
		t.logger.Warn("read failed, closing", "error", err)
		t.Close()
		return ErrClosed
	}
}

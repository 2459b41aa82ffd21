package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/najoast/rcall/wire"
)

// UDPConfig configures a UDPTransport.
type UDPConfig struct {
	// LocalAddr is the address frames are received on ("host:port")
	LocalAddr string

	// RemoteAddr is the address frames are sent to ("host:port")
	RemoteAddr string

	// ReadTimeout bounds each blocking Receive so shutdown can be
	// observed between calls
	ReadTimeout time.Duration

	// Logger receives transport events; nil means slog.Default
	Logger *slog.Logger

	// MetricSink receives transport metrics; nil means metrics.Default
	MetricSink metrics.MetricSink
}

// DefaultUDPConfig returns the default UDP transport configuration.
func DefaultUDPConfig() UDPConfig {
	return UDPConfig{
		ReadTimeout: 500 * time.Millisecond,
	}
}

// UDPTransport moves frames as UDP datagrams, one frame per packet.
// UDP is lossy and unordered; pair it with Reliable for at-least-once
// delivery.
type UDPTransport struct {
	conn   *net.UDPConn
	remote *net.UDPAddr

	readTimeout time.Duration
	logger      *slog.Logger
	msink       metrics.MetricSink

	closeOnce sync.Once
}

// NewUDP binds the local address and resolves the remote one.
func NewUDP(cfg UDPConfig) (*UDPTransport, error) {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultUDPConfig().ReadTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	msink := cfg.MetricSink
	if msink == nil {
		msink = metrics.Default()
	}

	local, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid local addr %q: %w", cfg.LocalAddr, err)
	}
	remote, err := net.ResolveUDPAddr("udp", cfg.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid remote addr %q: %w", cfg.RemoteAddr, err)
	}

	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to bind %q: %w", cfg.LocalAddr, err)
	}

	return &UDPTransport{
		conn:        conn,
		remote:      remote,
		readTimeout: cfg.ReadTimeout,
		logger:      logger.With("local", conn.LocalAddr().String(), "remote", remote.String()),
		msink:       msink,
	}, nil
}

// LocalAddr returns the bound receive address, useful when the config
// asked for an ephemeral port.
func (u *UDPTransport) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Send transmits one frame as a single datagram.
func (u *UDPTransport) Send(frame []byte) error {
	n, err := u.conn.WriteToUDP(frame, u.remote)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	u.msink.IncrCounter(MetricFramesOut, 1)
	u.msink.IncrCounter(MetricBytesOut, float32(n))
	return nil
}

// Receive blocks for the next datagram holding a valid frame.
// Datagrams failing frame validation are dropped and the read
// continues within the same timeout window.
func (u *UDPTransport) Receive() (wire.Header, []byte, error) {
	deadline := time.Now().Add(u.readTimeout)
	if err := u.conn.SetReadDeadline(deadline); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return wire.Header{}, nil, ErrClosed
		}
		return wire.Header{}, nil, fmt.Errorf("transport: set deadline: %w", err)
	}

	buf := make([]byte, wire.MaxFrameSize)
	for {
		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return wire.Header{}, nil, ErrClosed
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return wire.Header{}, nil, ErrTimeout
			}
			return wire.Header{}, nil, fmt.Errorf("transport: read: %w", err)
		}

		h, payload, derr := wire.DecodeFrame(buf[:n])
		if derr != nil {
			u.msink.IncrCounter(MetricFramingDrops, 1)
			u.logger.Debug("dropping invalid datagram", "bytes", n, "error", derr)
			continue
		}

		u.msink.IncrCounter(MetricFramesIn, 1)
		u.msink.IncrCounter(MetricBytesIn, float32(n))
		return h, payload, nil
	}
}

// Close shuts the socket down. Idempotent; a blocked Receive returns
// ErrClosed.
func (u *UDPTransport) Close() error {
	var err error
	u.closeOnce.Do(func() {
		err = u.conn.Close()
	})
	return err
}

package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/najoast/rcall/wire"
)

func tcpPair(t *testing.T) (*TCPTransport, *TCPTransport, net.Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept never completed")
	}

	cfg := DefaultTCPConfig()
	cfg.ReadTimeout = 50 * time.Millisecond

	a := NewTCP(dialed, cfg)
	b := NewTCP(server, cfg)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b, dialed, server
}

func TestTCPRoundTrip(t *testing.T) {
	a, b, _, _ := tcpPair(t)

	require.NoError(t, a.Send(mustFrame(t, 2, 1, []byte("over tcp"))))

	h, payload, err := recvWithRetry(b)
	require.NoError(t, err)
	require.Equal(t, wire.DestID(2), h.Dest)
	require.Equal(t, []byte("over tcp"), payload)

	// Other direction.
	require.NoError(t, b.Send(mustFrame(t, 3, 2, []byte("back"))))
	h, payload, err = recvWithRetry(a)
	require.NoError(t, err)
	require.Equal(t, wire.DestID(3), h.Dest)
	require.Equal(t, []byte("back"), payload)
}

func TestTCPCoalescedFrames(t *testing.T) {
	a, b, _, _ := tcpPair(t)

	// Several frames written back-to-back arrive as one byte stream;
	// the reader must split them on header boundaries.
	for i := uint16(1); i <= 5; i++ {
		require.NoError(t, a.Send(mustFrame(t, 1, i, []byte{byte(i)})))
	}

	for i := uint16(1); i <= 5; i++ {
		h, payload, err := recvWithRetry(b)
		require.NoError(t, err)
		require.Equal(t, i, h.Seq)
		require.Equal(t, []byte{byte(i)}, payload)
	}
}

func TestTCPZeroPayloadFrame(t *testing.T) {
	a, b, _, _ := tcpPair(t)

	ack, err := wire.EncodeFrame(wire.NewAckHeader(7), nil)
	require.NoError(t, err)
	require.NoError(t, a.Send(ack))

	h, payload, err := recvWithRetry(b)
	require.NoError(t, err)
	require.True(t, h.IsAck())
	require.Equal(t, uint16(7), h.Seq)
	require.Empty(t, payload)
}

func TestTCPReceiveTimeout(t *testing.T) {
	_, b, _, _ := tcpPair(t)

	_, _, err := b.Receive()
	require.ErrorIs(t, err, ErrTimeout)
}

func TestTCPCorruptFrameDropped(t *testing.T) {
	a, b, rawA, _ := tcpPair(t)
	_ = a

	// Valid header, broken checksum: the frame is skipped and the
	// stream stays usable.
	bad := mustFrame(t, 1, 1, []byte("bad"))
	bad[len(bad)-1] ^= 0xFF
	_, err := rawA.Write(bad)
	require.NoError(t, err)

	require.NoError(t, a.Send(mustFrame(t, 1, 2, []byte("good"))))

	h, payload, err := recvWithRetry(b)
	require.NoError(t, err)
	require.Equal(t, uint16(2), h.Seq)
	require.Equal(t, []byte("good"), payload)
}

func TestTCPFragmentedFrameSurvivesTimeout(t *testing.T) {
	a, b, rawA, _ := tcpPair(t)
	_ = a

	// The sender stalls after the header for several read-deadline
	// windows. Each window reports ErrTimeout, but the header bytes
	// stay buffered and the frame is delivered once the rest arrives.
	frame := mustFrame(t, 4, 9, []byte("slow frame"))
	_, err := rawA.Write(frame[:wire.HeaderSize])
	require.NoError(t, err)

	_, _, err = b.Receive()
	require.ErrorIs(t, err, ErrTimeout)

	time.Sleep(150 * time.Millisecond)
	_, err = rawA.Write(frame[wire.HeaderSize:])
	require.NoError(t, err)

	h, payload, err := recvWithRetry(b)
	require.NoError(t, err)
	require.Equal(t, wire.DestID(4), h.Dest)
	require.Equal(t, uint16(9), h.Seq)
	require.Equal(t, []byte("slow frame"), payload)

	// The stream is still aligned: a normal frame follows through.
	require.NoError(t, a.Send(mustFrame(t, 4, 10, []byte("next"))))
	h, payload, err = recvWithRetry(b)
	require.NoError(t, err)
	require.Equal(t, uint16(10), h.Seq)
	require.Equal(t, []byte("next"), payload)
}

func TestTCPFragmentedHeaderSurvivesTimeout(t *testing.T) {
	_, b, rawA, _ := tcpPair(t)

	// A stall inside the header itself resumes the same way.
	frame := mustFrame(t, 5, 11, []byte("torn header"))
	_, err := rawA.Write(frame[:3])
	require.NoError(t, err)

	_, _, err = b.Receive()
	require.ErrorIs(t, err, ErrTimeout)

	time.Sleep(120 * time.Millisecond)
	_, err = rawA.Write(frame[3:])
	require.NoError(t, err)

	h, payload, err := recvWithRetry(b)
	require.NoError(t, err)
	require.Equal(t, wire.DestID(5), h.Dest)
	require.Equal(t, []byte("torn header"), payload)
}

func TestTCPDesyncClosesConnection(t *testing.T) {
	_, b, rawA, _ := tcpPair(t)

	// Garbage where a marker should be is unrecoverable on a stream.
	_, err := rawA.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 0})
	require.NoError(t, err)

	_, _, err = recvWithRetry(b)
	require.ErrorIs(t, err, ErrClosed)
}

func TestTCPClosedEndpoints(t *testing.T) {
	a, b, _, _ := tcpPair(t)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	require.ErrorIs(t, a.Send(mustFrame(t, 1, 1, nil)), ErrClosed)

	// The peer observes the hangup as a closed transport.
	require.Eventually(t, func() bool {
		_, _, err := b.Receive()
		return err == ErrClosed
	}, 2*time.Second, 10*time.Millisecond)
}

// recvWithRetry retries through read-deadline windows, which are a
// liveness mechanism, not a failure.
func recvWithRetry(tr Transport) (wire.Header, []byte, error) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		h, payload, err := tr.Receive()
		if err == ErrTimeout && time.Now().Before(deadline) {
			continue
		}
		return h, payload, err
	}
}

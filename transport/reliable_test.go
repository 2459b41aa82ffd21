package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/najoast/rcall/wire"
)

// fakeWire records every outbound frame and serves queued inbound
// frames, returning ErrTimeout when the queue is empty.
type fakeWire struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	inbox   chan []byte
}

func newFakeWire() *fakeWire {
	return &fakeWire{inbox: make(chan []byte, 16)}
}

func (f *fakeWire) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	f.sent = append(f.sent, buf)
	return nil
}

func (f *fakeWire) Receive() (wire.Header, []byte, error) {
	select {
	case buf := <-f.inbox:
		return wire.DecodeFrame(buf)
	default:
		return wire.Header{}, nil, ErrTimeout
	}
}

func (f *fakeWire) Close() error { return nil }

func (f *fakeWire) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeWire) sentHeader(t *testing.T, i int) wire.Header {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Less(t, i, len(f.sent))
	h, _, err := wire.DecodeFrame(f.sent[i])
	require.NoError(t, err)
	return h
}

func (f *fakeWire) failSends(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func mustFrame(t *testing.T, dest wire.DestID, seq uint16, payload []byte) []byte {
	t.Helper()
	frame, err := wire.EncodeFrame(wire.Header{Dest: dest, Seq: seq}, payload)
	require.NoError(t, err)
	return frame
}

func TestReliableRetriesThenExhausts(t *testing.T) {
	fw := newFakeWire()
	m, clk := newTestMonitor(2 * time.Second)
	r := NewReliable(fw, m, ReliableConfig{MaxRetries: 3})
	defer r.Close()

	var mu sync.Mutex
	var events []StatusEvent
	sub := m.Subscribe(func(ev StatusEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	defer sub.Cancel()

	require.NoError(t, r.Send(mustFrame(t, 5, 1, []byte("hello"))))
	require.Equal(t, 1, fw.sentCount())

	// No ACK ever arrives: each timeout retransmits the identical
	// frame, three times in total.
	for want := 2; want <= 4; want++ {
		clk.Advance(2 * time.Second)
		m.Process()
		require.Equal(t, want, fw.sentCount())
		h := fw.sentHeader(t, want-1)
		require.Equal(t, wire.DestID(5), h.Dest)
		require.Equal(t, uint16(1), h.Seq, "retransmission must reuse the sequence number")
	}

	// The fourth timeout exhausts the budget: one terminal event,
	// no further sends.
	clk.Advance(2 * time.Second)
	m.Process()
	require.Equal(t, 4, fw.sentCount())

	mu.Lock()
	var terminal []StatusEvent
	for _, ev := range events {
		if ev.Status == StatusRetryExhausted {
			terminal = append(terminal, ev)
		}
	}
	mu.Unlock()
	require.Len(t, terminal, 1)
	require.Equal(t, wire.DestID(5), terminal[0].Dest)
	require.Equal(t, uint16(1), terminal[0].Seq)

	// The frame is forgotten: further ticks change nothing.
	clk.Advance(2 * time.Second)
	m.Process()
	require.Equal(t, 4, fw.sentCount())
	require.Equal(t, 0, m.Pending())
}

func TestReliableRetryCountReachesMonitor(t *testing.T) {
	fw := newFakeWire()
	m, clk := newTestMonitor(2 * time.Second)
	r := NewReliable(fw, m, ReliableConfig{MaxRetries: 3})
	defer r.Close()

	require.NoError(t, r.Send(mustFrame(t, 5, 1, nil)))

	pendingRetries := func() int {
		m.mu.Lock()
		defer m.mu.Unlock()
		rec, ok := m.pending[1]
		require.True(t, ok)
		return rec.Retries
	}

	require.Equal(t, 0, pendingRetries(), "first send registers attempt zero")

	// Each timeout-driven retransmission re-registers the record with
	// the attempt count the retrier holds.
	for attempt := 1; attempt <= 3; attempt++ {
		clk.Advance(2 * time.Second)
		m.Process()
		require.Equal(t, attempt, pendingRetries())
	}
}

func TestReliableAckCancelsRetry(t *testing.T) {
	fw := newFakeWire()
	m, clk := newTestMonitor(2 * time.Second)
	r := NewReliable(fw, m, ReliableConfig{MaxRetries: 3})
	defer r.Close()

	var mu sync.Mutex
	var failures []StatusEvent
	sub := m.Subscribe(func(ev StatusEvent) {
		if ev.Status == StatusRetryExhausted || ev.Status == StatusSendFail {
			mu.Lock()
			failures = append(failures, ev)
			mu.Unlock()
		}
	})
	defer sub.Cancel()

	require.NoError(t, r.Send(mustFrame(t, 5, 7, []byte("payload"))))

	// Two timeouts, two retransmissions.
	clk.Advance(2 * time.Second)
	m.Process()
	clk.Advance(2 * time.Second)
	m.Process()
	require.Equal(t, 3, fw.sentCount())

	// The ACK lands after the second retransmission.
	ack, err := wire.EncodeFrame(wire.NewAckHeader(7), nil)
	require.NoError(t, err)
	fw.inbox <- ack
	_, _, err = r.Receive()
	require.ErrorIs(t, err, ErrTimeout, "ACK is consumed, not surfaced")

	// No third retransmission, no failure.
	clk.Advance(2 * time.Second)
	m.Process()
	require.Equal(t, 3, fw.sentCount())
	require.Equal(t, 0, m.Pending())

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, failures)
}

func TestReliableAcknowledgesDataFrames(t *testing.T) {
	fw := newFakeWire()
	m, _ := newTestMonitor(2 * time.Second)
	r := NewReliable(fw, m, DefaultReliableConfig())
	defer r.Close()

	fw.inbox <- mustFrame(t, 3, 42, []byte("ping"))

	h, payload, err := r.Receive()
	require.NoError(t, err)
	require.Equal(t, wire.DestID(3), h.Dest)
	require.Equal(t, uint16(42), h.Seq)
	require.Equal(t, []byte("ping"), payload)

	// Every data frame is answered with an ACK echoing its sequence.
	require.Equal(t, 1, fw.sentCount())
	ack := fw.sentHeader(t, 0)
	require.True(t, ack.IsAck())
	require.Equal(t, uint16(42), ack.Seq)

	// A duplicate delivery is ACKed again; dedup is the receiver's
	// concern, not this layer's.
	fw.inbox <- mustFrame(t, 3, 42, []byte("ping"))
	_, _, err = r.Receive()
	require.NoError(t, err)
	require.Equal(t, 2, fw.sentCount())
}

func TestReliableAckFramesNotTracked(t *testing.T) {
	fw := newFakeWire()
	m, clk := newTestMonitor(2 * time.Second)
	r := NewReliable(fw, m, DefaultReliableConfig())
	defer r.Close()

	ack, err := wire.EncodeFrame(wire.NewAckHeader(9), nil)
	require.NoError(t, err)
	require.NoError(t, r.Send(ack))
	require.Equal(t, 0, m.Pending())

	clk.Advance(4 * time.Second)
	m.Process()
	require.Equal(t, 1, fw.sentCount(), "a lost ACK must never be retried")
}

func TestReliableFailedFirstSendStillRetried(t *testing.T) {
	fw := newFakeWire()
	m, clk := newTestMonitor(2 * time.Second)
	r := NewReliable(fw, m, ReliableConfig{MaxRetries: 3})
	defer r.Close()

	fw.failSends(errors.New("interface down"))
	err := r.Send(mustFrame(t, 2, 1, []byte("x")))
	require.Error(t, err)
	require.Equal(t, 1, m.Pending(), "failed first send stays tracked")

	// The medium recovers before the timeout fires.
	fw.failSends(nil)
	clk.Advance(2 * time.Second)
	m.Process()
	require.Equal(t, 1, fw.sentCount())
	h := fw.sentHeader(t, 0)
	require.Equal(t, uint16(1), h.Seq)
}

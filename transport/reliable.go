package transport

import (
	"log/slog"
	"sync"

	"github.com/hashicorp/go-metrics"
	"github.com/najoast/rcall/wire"
)

// ReliableConfig configures a Reliable transport.
type ReliableConfig struct {
	// MaxRetries bounds how many times an unacknowledged frame is
	// retransmitted before one terminal failure is reported
	MaxRetries int

	// Logger receives retry events; nil means slog.Default
	Logger *slog.Logger

	// MetricSink receives retry metrics; nil means metrics.Default
	MetricSink metrics.MetricSink
}

// DefaultReliableConfig returns the default reliability configuration.
func DefaultReliableConfig() ReliableConfig {
	return ReliableConfig{
		MaxRetries: 3,
	}
}

// pendingFrame remembers an outbound frame until its ACK arrives or
// its retry budget is spent.
type pendingFrame struct {
	dest    wire.DestID
	frame   []byte
	retries int
}

// Reliable wraps a raw Transport with acknowledgment-based retry.
//
// Outbound: every non-ACK frame is remembered and registered with the
// Monitor; on a timeout event it is retransmitted verbatim (same
// sequence number) up to MaxRetries, after which exactly one
// retry-exhausted event is published and the frame is forgotten.
//
// Inbound: ACK frames are consumed here, canceling any retry still
// pending for their sequence, and every received data frame is
// answered with an ACK echoing its sequence number.
//
// The net effect is at-least-once delivery: a retransmission racing a
// late ACK can deliver a duplicate to the receiver. Deduplication is
// deliberately not performed at this layer; targets that are not
// idempotent must dedup by sequence number themselves.
type Reliable struct {
	inner      Transport
	monitor    *Monitor
	maxRetries int
	logger     *slog.Logger
	msink      metrics.MetricSink

	mu       sync.Mutex
	inflight map[uint16]*pendingFrame

	sub *Subscription

	closeOnce sync.Once
}

// NewReliable wraps inner with retry-until-ACK semantics driven by the
// given Monitor. The Monitor must be ticked (Process) by the caller.
func NewReliable(inner Transport, monitor *Monitor, cfg ReliableConfig) *Reliable {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultReliableConfig().MaxRetries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	msink := cfg.MetricSink
	if msink == nil {
		msink = metrics.Default()
	}

	r := &Reliable{
		inner:      inner,
		monitor:    monitor,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
		msink:      msink,
		inflight:   make(map[uint16]*pendingFrame),
	}
	r.sub = monitor.Subscribe(r.onStatus)
	return r
}

// Send transmits a frame. Non-ACK frames are tracked for retry; ACK
// frames pass straight through and are never tracked.
func (r *Reliable) Send(frame []byte) error {
	h, err := wire.DecodeHeader(frame)
	if err != nil {
		return err
	}

	if !h.IsAck() {
		stored := make([]byte, len(frame))
		copy(stored, frame)

		r.mu.Lock()
		r.inflight[h.Seq] = &pendingFrame{dest: h.Dest, frame: stored}
		r.mu.Unlock()

		r.monitor.Add(h.Seq, h.Dest, 0)
	}

	// A failed first send is not terminal: the frame stays tracked
	// and the timeout path retries it.
	return r.inner.Send(frame)
}

// Receive reads from the wrapped transport, consuming ACK frames and
// acknowledging data frames. Only data frames are surfaced.
func (r *Reliable) Receive() (wire.Header, []byte, error) {
	for {
		h, payload, err := r.inner.Receive()
		if err != nil {
			return wire.Header{}, nil, err
		}

		if h.IsAck() {
			r.msink.IncrCounter(MetricAcksIn, 1)
			r.confirm(h.Seq)
			continue
		}

		r.acknowledge(h.Seq)
		return h, payload, nil
	}
}

// Close releases the monitor subscription and closes the wrapped
// transport. It is idempotent.
func (r *Reliable) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.sub.Cancel()
		r.mu.Lock()
		r.inflight = make(map[uint16]*pendingFrame)
		r.mu.Unlock()
		err = r.inner.Close()
	})
	return err
}

// confirm cancels retry state for an acknowledged sequence, even
// mid-flight between a timeout event and its retransmission.
func (r *Reliable) confirm(seq uint16) {
	r.mu.Lock()
	delete(r.inflight, seq)
	r.mu.Unlock()

	r.monitor.Remove(seq)
}

// acknowledge answers a received data frame with an ACK echoing its
// sequence number. ACKs are fire-and-forget: if one is lost the
// sender's retry resends the frame and we simply ACK again.
func (r *Reliable) acknowledge(seq uint16) {
	ack, err := wire.EncodeFrame(wire.NewAckHeader(seq), nil)
	if err != nil {
		return
	}
	if err := r.inner.Send(ack); err != nil {
		r.logger.Warn("failed to send ack", "seq", seq, "error", err)
		return
	}
	r.msink.IncrCounter(MetricAcksOut, 1)
}

// onStatus reacts to monitor events for frames this wrapper sent.
func (r *Reliable) onStatus(ev StatusEvent) {
	switch ev.Status {
	case StatusSuccess:
		// Remove already happened; just drop our copy of the frame.
		r.mu.Lock()
		delete(r.inflight, ev.Seq)
		r.mu.Unlock()

	case StatusTimeout:
		r.retry(ev.Seq)
	}
}

// retry retransmits the identical frame if budget remains, otherwise
// publishes one terminal retry-exhausted event.
func (r *Reliable) retry(seq uint16) {
	r.mu.Lock()
	pf, ok := r.inflight[seq]
	if !ok {
		// ACK raced the timeout; nothing to do.
		r.mu.Unlock()
		return
	}

	if pf.retries >= r.maxRetries {
		delete(r.inflight, seq)
		dest := pf.dest
		r.mu.Unlock()

		r.msink.IncrCounter(MetricRetryExhausted, 1)
		r.logger.Warn("retry budget exhausted", "dest", dest, "seq", seq, "retries", r.maxRetries)
		r.monitor.publish(StatusEvent{Dest: dest, Seq: seq, Status: StatusRetryExhausted})
		return
	}

	pf.retries++
	attempt := pf.retries
	frame := pf.frame
	dest := pf.dest
	r.mu.Unlock()

	r.msink.IncrCounter(MetricRetries, 1)
	r.logger.Debug("retransmitting frame", "dest", dest, "seq", seq, "attempt", attempt)

	// Same sequence number on the wire; the monitor entry is
	// re-registered with a fresh send time and the attempt count.
	r.monitor.Add(seq, dest, attempt)
	if err := r.inner.Send(frame); err != nil {
		r.logger.Warn("retransmission failed", "dest", dest, "seq", seq, "error", err)
		r.monitor.publish(StatusEvent{Dest: dest, Seq: seq, Status: StatusSendFail})
	}
}

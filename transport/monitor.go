package transport

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/najoast/rcall/wire"
)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	// AckTimeout is how long a send may stay unacknowledged before a
	// timeout event is emitted for it
	AckTimeout time.Duration

	// Logger receives monitor events; nil means slog.Default
	Logger *slog.Logger

	// MetricSink receives monitor metrics; nil means metrics.Default
	MetricSink metrics.MetricSink
}

// DefaultMonitorConfig returns the default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		AckTimeout: 2000 * time.Millisecond,
	}
}

// Monitor tracks unacknowledged sends and detects timeouts. It only
// detects; retrying is the Reliable wrapper's job. The pending table
// is guarded by a single mutex and keyed strictly by sequence number.
type Monitor struct {
	timeout time.Duration
	logger  *slog.Logger
	msink   metrics.MetricSink

	mu      sync.Mutex
	pending map[uint16]*Record
	subs    map[uint64]StatusHandler
	nextSub uint64

	// now is replaceable so tests can drive timeouts without sleeping.
	now func() time.Time
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultMonitorConfig().AckTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	msink := cfg.MetricSink
	if msink == nil {
		msink = metrics.Default()
	}

	return &Monitor{
		timeout: cfg.AckTimeout,
		logger:  logger,
		msink:   msink,
		pending: make(map[uint16]*Record),
		subs:    make(map[uint64]StatusHandler),
		now:     time.Now,
	}
}

// Subscription is a registration handle for status events. Release is
// safe even from inside a firing callback.
type Subscription struct {
	m    *Monitor
	id   uint64
	once sync.Once
}

// Cancel unregisters the handler. It always unregisters, even when
// called during notification.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.m.mu.Lock()
		delete(s.m.subs, s.id)
		s.m.mu.Unlock()
	})
}

// Subscribe registers a status handler and returns its handle. The
// subscriber set may be mutated mid-notification without corrupting an
// in-progress scan: notification iterates a snapshot.
func (m *Monitor) Subscribe(h StatusHandler) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSub++
	id := m.nextSub
	m.subs[id] = h
	return &Subscription{m: m, id: id}
}

// Add registers a send awaiting acknowledgment. retries is how many
// retransmissions preceded this send; the retrier passes its attempt
// count so timeout events report it. Re-adding a sequence still
// pending refreshes its record.
func (m *Monitor) Add(seq uint16, dest wire.DestID, retries int) {
	m.mu.Lock()
	if r, ok := m.pending[seq]; ok {
		r.SentAt = m.now()
		r.Retries = retries
	} else {
		m.pending[seq] = &Record{Dest: dest, Seq: seq, SentAt: m.now(), Retries: retries}
	}
	n := len(m.pending)
	m.mu.Unlock()

	m.msink.SetGauge(MetricPendingRecords, float32(n))
}

// Remove clears a pending record on a matching ACK and notifies
// subscribers of the success. Removing an unknown sequence is a no-op:
// a late ACK for an already-failed frame is expected on lossy media.
func (m *Monitor) Remove(seq uint16) (Record, bool) {
	m.mu.Lock()
	r, ok := m.pending[seq]
	if ok {
		delete(m.pending, seq)
	}
	m.mu.Unlock()

	if !ok {
		return Record{}, false
	}

	m.publish(StatusEvent{Dest: r.Dest, Seq: r.Seq, Status: StatusSuccess})
	return *r, true
}

// Pending returns the number of sends still awaiting acknowledgment.
func (m *Monitor) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Process scans the pending table for records older than the ACK
// timeout and emits one timeout event per stale record. The engine
// invokes it on a fixed tick. Stale records are removed here; whoever
// decides to retry re-registers them through Add.
func (m *Monitor) Process() {
	now := m.now()

	m.mu.Lock()
	var stale []Record
	for seq, r := range m.pending {
		if now.Sub(r.SentAt) >= m.timeout {
			stale = append(stale, *r)
			delete(m.pending, seq)
		}
	}
	m.mu.Unlock()

	for _, r := range stale {
		m.msink.IncrCounter(MetricMonitorTimeouts, 1)
		m.logger.Debug("send timed out", "dest", r.Dest, "seq", r.Seq, "retries", r.Retries)
		m.publish(StatusEvent{Dest: r.Dest, Seq: r.Seq, Status: StatusTimeout})
	}
}

// publish delivers an event to a snapshot of the subscriber set, with
// no lock held, so handlers may subscribe or cancel freely.
func (m *Monitor) publish(ev StatusEvent) {
	m.mu.Lock()
	handlers := make([]StatusHandler, 0, len(m.subs))
	for _, h := range m.subs {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

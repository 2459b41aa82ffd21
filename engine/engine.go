// Package engine orchestrates outbound dispatch and inbound delivery
// over a reliable transport. All engine state lives on one worker
// goroutine; public methods marshal onto it when called from anywhere
// else.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"

	"github.com/najoast/rcall/transport"
	"github.com/najoast/rcall/wire"
	"github.com/najoast/rcall/worker"
)

var (
	// ErrNoTransport is returned by Dispatch before Initialize has
	// configured a transport.
	ErrNoTransport = errors.New("engine: no transport configured")

	// ErrNotRunning is returned by operations on an engine that is
	// not started.
	ErrNotRunning = errors.New("engine: not running")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("engine: already started")

	// ErrReservedDest rejects the acknowledgment destination id in
	// registrations and dispatches.
	ErrReservedDest = errors.New("engine: destination id is reserved")
)

// Config configures an Engine.
type Config struct {
	// Name identifies the engine in logs
	Name string

	// TickInterval is the period of the monitor scan driving
	// timeout detection and retransmission
	TickInterval time.Duration

	// AckTimeout is how long a send may stay unacknowledged before
	// it counts as timed out
	AckTimeout time.Duration

	// MaxRetries bounds retransmissions per frame
	MaxRetries int

	// MarshalTimeout bounds how long a cross-goroutine call into the
	// engine may wait for the engine worker
	MarshalTimeout time.Duration

	// QueueSize is the engine worker's mailbox capacity
	QueueSize int

	// Logger receives engine events; nil means slog.Default
	Logger *slog.Logger

	// MetricSink receives engine metrics; nil means metrics.Default
	MetricSink metrics.MetricSink
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Name:           "engine",
		TickInterval:   100 * time.Millisecond,
		AckTimeout:     2000 * time.Millisecond,
		MaxRetries:     3,
		MarshalTimeout: 1000 * time.Millisecond,
		QueueSize:      256,
	}
}

func (c *Config) withDefaults() {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MarshalTimeout <= 0 {
		c.MarshalTimeout = d.MarshalTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MetricSink == nil {
		c.MetricSink = metrics.Default()
	}
}

// Engine ties the pieces together: a worker goroutine owning all
// mutable state, a monitor ticked on that worker, a reliable transport
// wrapped around whatever raw transport Initialize receives, and a
// receive goroutine feeding inbound frames back onto the worker.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	msink   metrics.MetricSink
	worker  *worker.Worker
	monitor *transport.Monitor

	// port and endpoints are touched only on the engine worker.
	port      transport.Transport
	endpoints map[wire.DestID]Endpoint

	// seq is the engine-wide dispatch counter; the low 16 bits are
	// the wire sequence, wrapping mod 65536.
	seq atomic.Uint32

	state    atomic.Int32
	stopTick chan struct{}
	tickDone chan struct{}
	recvWG   sync.WaitGroup
}

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// New builds an engine. Call Start before Initialize or Dispatch.
func New(cfg Config) *Engine {
	cfg.withDefaults()
	logger := cfg.Logger.With("engine", cfg.Name)

	e := &Engine{
		cfg:    cfg,
		logger: logger,
		msink:  cfg.MetricSink,
		worker: worker.New(cfg.Name, worker.Options{
			QueueSize:      cfg.QueueSize,
			EnqueueTimeout: cfg.MarshalTimeout,
			Logger:         logger,
		}),
		monitor: transport.NewMonitor(transport.MonitorConfig{
			AckTimeout: cfg.AckTimeout,
			Logger:     logger,
			MetricSink: cfg.MetricSink,
		}),
		endpoints: make(map[wire.DestID]Endpoint),
		stopTick:  make(chan struct{}),
		tickDone:  make(chan struct{}),
	}
	return e
}

// Start launches the engine worker and the monitor tick.
func (e *Engine) Start() error {
	if !e.state.CompareAndSwap(stateIdle, stateRunning) {
		return ErrAlreadyStarted
	}
	if err := e.worker.Start(); err != nil {
		return fmt.Errorf("engine %s: %w", e.cfg.Name, err)
	}
	go e.tickLoop()
	e.logger.Info("engine started", "tick", e.cfg.TickInterval)
	return nil
}

// Stop shuts the engine down: tick first, then the transport so the
// receive goroutine unblocks, then the worker after it has drained.
// Idempotent once stopped.
func (e *Engine) Stop() error {
	if !e.state.CompareAndSwap(stateRunning, stateStopped) {
		return nil
	}

	close(e.stopTick)
	<-e.tickDone

	// Closing the port makes the receive goroutine observe ErrClosed.
	err := e.worker.Invoke(func() {
		if e.port != nil {
			e.port.Close()
			e.port = nil
		}
	}, e.cfg.MarshalTimeout)
	if err != nil {
		e.logger.Warn("transport close not confirmed", "error", err)
	}
	e.recvWG.Wait()

	if err := e.worker.Stop(); err != nil {
		return fmt.Errorf("engine %s: %w", e.cfg.Name, err)
	}
	e.logger.Info("engine stopped")
	return nil
}

// Initialize wires a raw transport into the engine, wrapping it with
// acknowledgment-based retry driven by the engine's monitor, and
// starts receiving on it. Re-initializing replaces and closes the
// previous transport.
func (e *Engine) Initialize(raw transport.Transport) error {
	if e.state.Load() != stateRunning {
		return ErrNotRunning
	}

	reliable := transport.NewReliable(raw, e.monitor, transport.ReliableConfig{
		MaxRetries: e.cfg.MaxRetries,
		Logger:     e.logger,
		MetricSink: e.msink,
	})

	err := e.worker.Invoke(func() {
		if e.port != nil {
			e.port.Close()
		}
		e.port = reliable
		e.recvWG.Add(1)
		go e.receiveLoop(reliable)
	}, e.cfg.MarshalTimeout)
	if err != nil {
		reliable.Close()
		return fmt.Errorf("engine %s: initialize: %w", e.cfg.Name, err)
	}
	return nil
}

// RegisterEndpoint binds an endpoint to a destination id. A second
// registration for the same id replaces the first. The reserved ACK id
// is rejected.
func (e *Engine) RegisterEndpoint(id wire.DestID, ep Endpoint) error {
	if id == wire.AckDestID {
		return ErrReservedDest
	}
	if e.state.Load() != stateRunning {
		return ErrNotRunning
	}
	return e.worker.Invoke(func() {
		e.endpoints[id] = ep
	}, e.cfg.MarshalTimeout)
}

// DeregisterEndpoint removes an endpoint binding. Unknown ids are a
// no-op.
func (e *Engine) DeregisterEndpoint(id wire.DestID) error {
	if e.state.Load() != stateRunning {
		return ErrNotRunning
	}
	return e.worker.Invoke(func() {
		delete(e.endpoints, id)
	}, e.cfg.MarshalTimeout)
}

// Dispatch frames a payload for the destination under the next
// sequence number and hands it to the configured transport. Delivery
// retries happen below; Dispatch itself never retries, and an error
// means the frame was not accepted for sending.
func (e *Engine) Dispatch(dest wire.DestID, payload []byte) error {
	if dest == wire.AckDestID {
		return ErrReservedDest
	}
	if e.state.Load() != stateRunning {
		return ErrNotRunning
	}

	seq := uint16(e.seq.Add(1))
	frame, err := wire.EncodeFrame(wire.Header{Dest: dest, Seq: seq}, payload)
	if err != nil {
		return err
	}

	var sendErr error
	err = e.worker.Invoke(func() {
		if e.port == nil {
			sendErr = ErrNoTransport
			return
		}
		sendErr = e.port.Send(frame)
		if sendErr == nil {
			e.msink.IncrCounter(MetricDispatched, 1)
		}
	}, e.cfg.MarshalTimeout)
	if err != nil {
		return fmt.Errorf("engine %s: dispatch: %w", e.cfg.Name, err)
	}
	return sendErr
}

// Subscribe registers a handler for delivery status events. Handlers
// are marshaled onto the engine worker, never invoked under a lock,
// and the returned handle may be canceled from inside the handler.
func (e *Engine) Subscribe(h transport.StatusHandler) *transport.Subscription {
	return e.monitor.Subscribe(func(ev transport.StatusEvent) {
		if e.worker.IsSelf() {
			h(ev)
			return
		}
		if err := e.worker.Post(func() { h(ev) }); err != nil {
			e.logger.Warn("status event dropped", "seq", ev.Seq, "error", err)
		}
	})
}

// Pending reports how many sends currently await acknowledgment.
func (e *Engine) Pending() int {
	return e.monitor.Pending()
}

// tickLoop drives timeout detection at a fixed period. The scan itself
// runs on the engine worker; a tick that finds the mailbox full is
// dropped, the next one catches up.
func (e *Engine) tickLoop() {
	defer close(e.tickDone)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopTick:
			return
		case <-ticker.C:
			if err := e.worker.Post(e.monitor.Process); err != nil {
				e.logger.Debug("monitor tick skipped", "error", err)
			}
		}
	}
}

// receiveLoop blocks on the transport and marshals each decoded frame
// onto the engine worker. The payload is handed over by reference, not
// copied. The loop exits when the transport reports closed.
func (e *Engine) receiveLoop(t transport.Transport) {
	defer e.recvWG.Done()

	for {
		h, payload, err := t.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			if !errors.Is(err, transport.ErrClosed) {
				e.logger.Warn("receive failed", "error", err)
			}
			return
		}

		err = e.worker.PostWait(func() { e.incoming(h, payload) }, e.cfg.MarshalTimeout)
		if err != nil {
			// Dropping here is the lossy-medium case again: the
			// sender's retry gets another chance at delivery.
			e.msink.IncrCounter(MetricMarshalDrops, 1)
			e.logger.Warn("inbound frame dropped, worker busy", "header", h.String())
		}
	}
}

// incoming delivers one inbound frame. Engine worker only.
func (e *Engine) incoming(h wire.Header, payload []byte) {
	if h.IsAck() {
		// ACKs are consumed by the reliability layer; one surfacing
		// here is malformed traffic.
		e.msink.IncrCounter(MetricAckDropped, 1)
		return
	}

	ep, ok := e.endpoints[h.Dest]
	if !ok {
		e.msink.IncrCounter(MetricUnknownDest, 1)
		e.logger.Debug("no endpoint for destination", "dest", h.Dest, "seq", h.Seq)
		return
	}

	ep.Deliver(h.Seq, payload)
	e.msink.IncrCounter(MetricDelivered, 1)
}

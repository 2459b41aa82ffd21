package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNotCompleted is returned by Invoke when the caller's timeout
	// elapses first. The work item is never retracted: it will still
	// execute later, and callers must tolerate the side effect
	// occurring after the timeout was reported.
	ErrNotCompleted = errors.New("worker: call not completed within timeout")

	// ErrQueueFull is returned when the bounded enqueue wait elapses.
	// The work was not enqueued and will not be performed.
	ErrQueueFull = errors.New("worker: queue is full")

	// ErrStopped is returned when submitting to a worker whose loop
	// has exited or is exiting.
	ErrStopped = errors.New("worker: stopped")

	// ErrStopFromSelf is returned when Stop is called on the worker's
	// own goroutine, which would wait for itself.
	ErrStopFromSelf = errors.New("worker: stop called from worker goroutine")
)

// State represents the lifecycle state of a Worker.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options contains configuration options for creating a Worker.
type Options struct {
	// QueueSize sets the capacity of the work queue
	QueueSize int

	// EnqueueTimeout bounds how long a submission waits for queue
	// space before reporting ErrQueueFull
	EnqueueTimeout time.Duration

	// Logger receives lifecycle events; nil means slog.Default
	Logger *slog.Logger
}

// DefaultOptions returns the default Worker options.
func DefaultOptions() Options {
	return Options{
		QueueSize:      256,
		EnqueueTimeout: time.Second,
	}
}

type itemKind int

const (
	kindInvoke itemKind = iota
	kindExit
)

// item is one unit of queued work, consumed exactly once by the
// owning goroutine.
type item struct {
	kind itemKind
	fn   func()
	done chan struct{}
}

// Worker owns one goroutine that drains a FIFO queue of work items.
// Items submitted from a single source goroutine execute in submission
// order; no ordering holds across different sources.
type Worker struct {
	name   string
	opts   Options
	logger *slog.Logger

	queue chan *item

	state  int32 // State
	loopID atomic.Int64

	exitOnce sync.Once
	wg       sync.WaitGroup

	processed atomic.Uint64
}

// New creates a Worker. Start must be called before work is accepted.
func New(name string, opts Options) *Worker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = DefaultOptions().EnqueueTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		name:   name,
		opts:   opts,
		logger: logger.With("worker", name),
		queue:  make(chan *item, opts.QueueSize),
	}
}

// Name returns the worker's name.
func (w *Worker) Name() string {
	return w.name
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	return State(atomic.LoadInt32(&w.state))
}

// Processed returns how many items the loop has executed.
func (w *Worker) Processed() uint64 {
	return w.processed.Load()
}

// Start launches the owning goroutine. It may be called once.
func (w *Worker) Start() error {
	if !atomic.CompareAndSwapInt32(&w.state, int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("worker %s already started (state: %s)", w.name, w.State())
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop enqueues an exit control item and waits for the loop to drain
// up to it. Items queued after the exit item never execute. Stop must
// come from another goroutine: the loop cannot wait on itself, so a
// handler calling Stop gets ErrStopFromSelf instead of a deadlock.
func (w *Worker) Stop() error {
	if w.IsSelf() {
		return ErrStopFromSelf
	}

	if w.State() == StateIdle {
		atomic.StoreInt32(&w.state, int32(StateStopped))
		return nil
	}

	w.exitOnce.Do(func() {
		// The exit item bypasses the bounded wait: shutdown must not
		// fail because the queue is busy.
		w.queue <- &item{kind: kindExit}
	})

	w.wg.Wait()
	return nil
}

// IsSelf reports whether the calling goroutine is the worker's owning
// goroutine. The engine uses this to run inline instead of marshaling,
// which would deadlock when called from a handler.
func (w *Worker) IsSelf() bool {
	return w.loopID.Load() == goid()
}

// Post enqueues fn fire-and-forget. It returns as soon as the item is
// queued; there is no observable result.
func (w *Worker) Post(fn func()) error {
	return w.enqueue(&item{kind: kindInvoke, fn: fn}, w.opts.EnqueueTimeout)
}

// PostWait enqueues fn fire-and-forget with an explicit bound on the
// enqueue wait.
func (w *Worker) PostWait(fn func(), enqueueTimeout time.Duration) error {
	return w.enqueue(&item{kind: kindInvoke, fn: fn}, enqueueTimeout)
}

// Invoke enqueues fn and blocks until the owning goroutine has run it,
// or until timeout elapses, whichever comes first. On timeout the
// caller learns only ErrNotCompleted, not whether fn will eventually
// run; it will, exactly once, unless the process terminates.
func (w *Worker) Invoke(fn func(), timeout time.Duration) error {
	it := &item{kind: kindInvoke, fn: fn, done: make(chan struct{})}
	if err := w.enqueue(it, w.opts.EnqueueTimeout); err != nil {
		return err
	}

	if timeout <= 0 {
		<-it.done
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-it.done:
		return nil
	case <-timer.C:
		return ErrNotCompleted
	}
}

// Submit enqueues fn and returns a Future immediately. The caller can
// poll or block on it later.
func (w *Worker) Submit(fn func()) (*Future, error) {
	it := &item{kind: kindInvoke, fn: fn, done: make(chan struct{})}
	if err := w.enqueue(it, w.opts.EnqueueTimeout); err != nil {
		return nil, err
	}
	return &Future{done: it.done}, nil
}

func (w *Worker) enqueue(it *item, wait time.Duration) error {
	if w.State() != StateRunning {
		return ErrStopped
	}

	if w.IsSelf() {
		// Calling goroutine already owns the queue: run inline so a
		// full queue cannot deadlock the loop against itself.
		w.run(it)
		return nil
	}

	select {
	case w.queue <- it:
		return nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case w.queue <- it:
		return nil
	case <-timer.C:
		return ErrQueueFull
	}
}

// loop is the owning goroutine: wait while the queue is empty, pop one
// item, dispatch by kind, repeat. FIFO order is the only guarantee.
func (w *Worker) loop() {
	defer w.wg.Done()

	w.loopID.Store(goid())
	w.logger.Debug("worker loop started")

	for it := range w.queue {
		if it.kind == kindExit {
			atomic.StoreInt32(&w.state, int32(StateStopped))
			w.logger.Debug("worker loop exiting", "processed", w.processed.Load())
			return
		}
		w.run(it)
	}
}

func (w *Worker) run(it *item) {
	if it.fn != nil {
		it.fn()
	}
	w.processed.Add(1)
	if it.done != nil {
		close(it.done)
	}
}

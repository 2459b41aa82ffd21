package worker

import "time"

// Future is a handle to a submitted work item. It completes when the
// owning goroutine has executed the item.
type Future struct {
	done chan struct{}
}

// Done reports whether the item has executed, without blocking.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the item has executed or timeout elapses. A zero
// or negative timeout waits indefinitely. It returns ErrNotCompleted
// on timeout; the item still executes later.
func (f *Future) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		<-f.done
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return nil
	case <-timer.C:
		return ErrNotCompleted
	}
}

// C exposes the completion channel for use in select statements.
func (f *Future) C() <-chan struct{} {
	return f.done
}

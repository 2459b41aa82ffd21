// Package worker provides a cross-goroutine invocation primitive: a FIFO
// work queue consumed by a single owning goroutine, with fire-and-forget,
// blocking-with-timeout, and future-based call modes.
package worker

// Package bootstrap provides application lifecycle management and
// dependency wiring for rcall. All references are constructed and
// injected explicitly; there are no package-level singletons.
package bootstrap

import (
	"context"
	"fmt"
	"time"
)

// Service represents a service managed by the lifecycle manager
type Service interface {
	// Start starts the service
	Start(ctx context.Context) error

	// Stop stops the service
	Stop(ctx context.Context) error

	// Health returns the health status of the service
	Health(ctx context.Context) (HealthStatus, error)

	// Name returns the service name
	Name() string
}

// HealthStatus represents the health status of a service
type HealthStatus struct {
	// State indicates whether the service is healthy
	State HealthState `json:"state"`

	// Message provides additional information about the health status
	Message string `json:"message,omitempty"`

	// LastCheck is the timestamp of the last health check
	LastCheck time.Time `json:"last_check,omitempty"`
}

// HealthState represents the health state of a service
type HealthState string

const (
	// HealthUnknown indicates the health status is unknown
	HealthUnknown HealthState = "unknown"

	// HealthStarting indicates the service is starting up
	HealthStarting HealthState = "starting"

	// HealthHealthy indicates the service is healthy and operational
	HealthHealthy HealthState = "healthy"

	// HealthUnhealthy indicates the service is unhealthy but may recover
	HealthUnhealthy HealthState = "unhealthy"

	// HealthStopped indicates the service has stopped
	HealthStopped HealthState = "stopped"
)

// Container provides explicit dependency registration and lookup
type Container interface {
	// Register registers a service factory with the container
	Register(name string, factory ServiceFactory) error

	// RegisterInstance registers a built instance with the container
	RegisterInstance(name string, instance interface{}) error

	// Resolve resolves a service by name
	Resolve(name string) (interface{}, error)

	// ResolveAs resolves a service and casts it to the specified type
	ResolveAs(name string, target interface{}) error

	// Has checks if a service is registered
	Has(name string) bool

	// Names returns all registered service names
	Names() []string
}

// ServiceFactory is a function that creates a service instance
type ServiceFactory func(container Container) (interface{}, error)

// LifecycleEvent represents an event in the service lifecycle
type LifecycleEvent struct {
	Type      string    `json:"type"`
	Service   string    `json:"service,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Error     error     `json:"error,omitempty"`
}

// ApplicationError represents an error during application lifecycle
type ApplicationError struct {
	Operation string
	Service   string
	Err       error
}

func (e *ApplicationError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s failed for service %s: %v", e.Operation, e.Service, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}

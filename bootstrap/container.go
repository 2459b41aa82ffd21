// Package bootstrap provides the dependency container implementation
package bootstrap

import (
	"fmt"
	"reflect"
	"sync"
)

// DefaultContainer is a map-backed dependency container. Factories run
// lazily on first Resolve and the result is cached.
type DefaultContainer struct {
	// services holds registered service factories
	services map[string]ServiceFactory

	// instances holds created service instances
	instances map[string]interface{}

	// mutex protects concurrent access
	mutex sync.RWMutex
}

// NewContainer creates a new dependency container
func NewContainer() Container {
	return &DefaultContainer{
		services:  make(map[string]ServiceFactory),
		instances: make(map[string]interface{}),
	}
}

// Register registers a service factory with the container
func (c *DefaultContainer) Register(name string, factory ServiceFactory) error {
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("service factory cannot be nil")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.services[name]; exists {
		return fmt.Errorf("service %s is already registered", name)
	}

	c.services[name] = factory
	return nil
}

// RegisterInstance registers a built instance with the container
func (c *DefaultContainer) RegisterInstance(name string, instance interface{}) error {
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if instance == nil {
		return fmt.Errorf("service instance cannot be nil")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.instances[name]; exists {
		return fmt.Errorf("service instance %s is already registered", name)
	}

	c.instances[name] = instance
	return nil
}

// Resolve resolves a service by name
func (c *DefaultContainer) Resolve(name string) (interface{}, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if instance, exists := c.instances[name]; exists {
		return instance, nil
	}

	factory, exists := c.services[name]
	if !exists {
		return nil, fmt.Errorf("service %s is not registered", name)
	}

	instance, err := factory(c)
	if err != nil {
		return nil, fmt.Errorf("failed to create service %s: %w", name, err)
	}

	c.instances[name] = instance
	return instance, nil
}

// ResolveAs resolves a service and casts it to the specified type
func (c *DefaultContainer) ResolveAs(name string, target interface{}) error {
	instance, err := c.Resolve(name)
	if err != nil {
		return err
	}

	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Ptr {
		return fmt.Errorf("target must be a pointer")
	}

	instanceValue := reflect.ValueOf(instance)
	targetType := targetValue.Elem().Type()

	if !instanceValue.Type().AssignableTo(targetType) {
		return fmt.Errorf("service %s of type %s is not assignable to %s",
			name, instanceValue.Type(), targetType)
	}

	targetValue.Elem().Set(instanceValue)
	return nil
}

// Has checks if a service is registered
func (c *DefaultContainer) Has(name string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	_, hasFactory := c.services[name]
	_, hasInstance := c.instances[name]
	return hasFactory || hasInstance
}

// Names returns all registered service names
func (c *DefaultContainer) Names() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	nameSet := make(map[string]bool)
	for name := range c.services {
		nameSet[name] = true
	}
	for name := range c.instances {
		nameSet[name] = true
	}

	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}

	return names
}

// Clear removes all services and instances from the container
func (c *DefaultContainer) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.services = make(map[string]ServiceFactory)
	c.instances = make(map[string]interface{})
}

// Package di wires the daemon's service graph. Construction is lazy: a
// builder runs the first time its service is resolved and the instance is
// cached for the life of the process.
package di

import (
	"errors"
	"fmt"
	"sync"
)

// Service is a typed key into the container.
type Service string

// Keys for every service the provider registers.
const (
	ServiceConfig        Service = "config"
	ServiceDatabase      Service = "database"
	ServiceArchive       Service = "event.archive"
	ServiceEventQueue    Service = "event.queue"
	ServiceEventSink     Service = "event.sink"
	ServiceMetrics       Service = "metrics.registry"
	ServicePostingEngine Service = "posting.engine"
	ServiceReversals     Service = "reversal.pipeline"
	ServicePolicyStore   Service = "policy.store"
	ServicePolicyEngine  Service = "policy.engine"
	ServiceWorkflow      Service = "approval.workflow"
	ServiceInterceptor   Service = "approval.interceptor"
	ServiceFraudStore    Service = "fraud.store"
	ServiceFraudEval     Service = "fraud.evaluator"
	ServiceReconEngine   Service = "recon.engine"
	ServiceReconMatcher  Service = "recon.matcher"
	ServiceIdempotency   Service = "idempotency.store"
	ServiceRESTServer    Service = "rest.server"
)

// ErrUnknownService is returned when no instance or builder is registered
// under the requested key.
var ErrUnknownService = errors.New("unknown service")

// Builder constructs one service, resolving its dependencies through the
// container.
type Builder func(c *Container) (interface{}, error)

// Container resolves services on demand. Builders may call Get for their
// dependencies; the lock is released around builder execution so nested
// resolution works, and an in-progress marker turns circular dependencies
// into an error instead of a hang. Resolution happens on the startup
// goroutine.
type Container struct {
	mu       sync.Mutex
	built    map[Service]interface{}
	builders map[Service]Builder
	building map[Service]bool
}

// New creates an empty container.
func New() *Container {
	return &Container{
		built:    make(map[Service]interface{}),
		builders: make(map[Service]Builder),
		building: make(map[Service]bool),
	}
}

// Register stores an already-constructed instance.
func (c *Container) Register(name Service, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.built[name] = service
}

// RegisterBuilder stores a builder for lazy construction.
func (c *Container) RegisterBuilder(name Service, builder Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builders[name] = builder
}

// Get resolves a service, constructing it on first use. A failed build is
// not cached; the next Get retries the builder.
func (c *Container) Get(name Service) (interface{}, error) {
	c.mu.Lock()
	if svc, ok := c.built[name]; ok {
		c.mu.Unlock()
		return svc, nil
	}
	builder, ok := c.builders[name]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	if c.building[name] {
		c.mu.Unlock()
		return nil, fmt.Errorf("dependency cycle resolving %s", name)
	}
	c.building[name] = true
	c.mu.Unlock()

	svc, err := builder(c)

	c.mu.Lock()
	delete(c.building, name)
	if err == nil {
		c.built[name] = svc
	}
	c.mu.Unlock()
	return svc, err
}

// MustGet resolves a service or panics. Reserved for builders whose
// dependencies cannot fail once the graph is registered.
func (c *Container) MustGet(name Service) interface{} {
	svc, err := c.Get(name)
	if err != nil {
		panic(err)
	}
	return svc
}

// Has reports whether anything is registered under the key.
func (c *Container) Has(name Service) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.built[name]; ok {
		return true
	}
	_, ok := c.builders[name]
	return ok
}

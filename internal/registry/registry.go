// Package registry manages the lifecycle of long-running application
// components: background schedulers, collectors, and anything else that
// needs an ordered start and a reverse-ordered stop.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainpulse/console/pkg/logger"
)

// Component is a long-running part of the application.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// State represents the registry lifecycle state.
type State string

const (
	StateCreated State = "created"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Registry holds components in registration order. Components are started
// in that order and stopped in reverse, so dependents shut down before
// their dependencies.
type Registry struct {
	mu         sync.RWMutex
	state      State
	components []Component
	byName     map[string]Component
	log        *logger.Logger
}

func New(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		state:  StateCreated,
		byName: make(map[string]Component),
		log:    log,
	}
}

// Register adds a component. Must be called before Start.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateCreated {
		return fmt.Errorf("cannot register %q after registry start", c.Name())
	}
	if _, exists := r.byName[c.Name()]; exists {
		return fmt.Errorf("component already registered: %s", c.Name())
	}
	r.components = append(r.components, c)
	r.byName[c.Name()] = c
	return nil
}

// MustRegister is Register for wiring code where a duplicate name is a
// programming error.
func (r *Registry) MustRegister(c Component) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Get returns a component by name.
func (r *Registry) Get(name string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// State returns the current lifecycle state.
func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Start starts all components in registration order. On the first failure
// it stops the components already started, in reverse order, and returns
// the failure.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateCreated {
		r.mu.Unlock()
		return fmt.Errorf("registry already started")
	}
	components := append([]Component(nil), r.components...)
	r.mu.Unlock()

	started := make([]Component, 0, len(components))
	for _, c := range components {
		r.log.WithField("component", c.Name()).Info("starting component")
		if err := c.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				if stopErr := started[i].Stop(ctx); stopErr != nil {
					r.log.WithError(stopErr).WithField("component", started[i].Name()).Warn("rollback stop failed")
				}
			}
			return fmt.Errorf("start component %s: %w", c.Name(), err)
		}
		started = append(started, c)
	}

	r.mu.Lock()
	r.state = StateRunning
	r.mu.Unlock()
	return nil
}

// Stop stops all components in reverse registration order. All components
// are attempted; the first error is returned.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return nil
	}
	components := append([]Component(nil), r.components...)
	r.state = StateStopped
	r.mu.Unlock()

	var firstErr error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		r.log.WithField("component", c.Name()).Info("stopping component")
		if err := c.Stop(ctx); err != nil {
			r.log.WithError(err).WithField("component", c.Name()).Warn("component stop failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("stop component %s: %w", c.Name(), err)
			}
		}
	}
	return firstErr
}

// Func wraps start/stop closures as a Component.
type Func struct {
	ComponentName string
	OnStart       func(ctx context.Context) error
	OnStop        func(ctx context.Context) error
}

func (f Func) Name() string { return f.ComponentName }

func (f Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

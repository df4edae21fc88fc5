package training

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownEnvironment is returned for environment types nothing has
// registered.
var ErrUnknownEnvironment = errors.New("unknown environment type")

// Environment is one task episode. Calls on a single environment are
// serialized by its actor; implementations never need their own locks.
type Environment interface {
	// InitState returns the initial observation for the episode.
	InitState(params map[string]any) (any, error)

	// Step applies one action and returns the resulting observation.
	Step(action map[string]any, params map[string]any) (any, error)

	// Evaluate scores the episode from the conversation so far.
	Evaluate(messages []map[string]any, params map[string]any) (any, error)

	// Info returns environment metadata for the conversation so far.
	Info(messages []map[string]any, params map[string]any) (any, error)

	// Close releases episode resources. Called exactly once, on the
	// actor goroutine, after the last call completes.
	Close() error
}

// Factory builds environments of one type and answers dataset queries
// without an instance.
type Factory interface {
	New(taskID, instanceID string, params map[string]any) (Environment, error)
	QueryList(split string, params map[string]any) ([]string, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an environment factory available under name.
// Environment packages call it from init; importing an environment
// package is what makes its type selectable.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("training: Register with nil factory")
	}
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("training: Register called twice for %q", name))
	}
	registry[name] = factory
}

// Available returns the registered environment types, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupFactory(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, name)
	}
	return factory, nil
}

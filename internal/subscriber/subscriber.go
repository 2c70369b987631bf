// Package subscriber defines consumers of node lifecycle events and the
// registry that builds them from configuration.
package subscriber

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
)

// Subscriber consumes the event batches of a bus. Deliver is called from
// a single goroutine per subscriber, in publication order.
type Subscriber interface {
	Name() string
	Deliver(ctx context.Context, b *event.Batch) error
}

// Factory builds subscribers of one type.
type Factory interface {
	// Type returns the string key this factory is registered under.
	Type() string
	// Validate checks params at config load time.
	Validate(params map[string]interface{}) error
	New(name string, params map[string]interface{}) (Subscriber, error)
}

// Registry maps subscriber type strings to their factories.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Panics on duplicate type to surface misconfiguration early.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[f.Type()]; exists {
		panic(fmt.Sprintf("subscriber registry: duplicate type %q", f.Type()))
	}
	r.factories[f.Type()] = f
}

// Get returns the factory for the given type.
func (r *Registry) Get(typ string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typ]
	if !ok {
		return nil, fmt.Errorf("no factory registered for subscriber type %q", typ)
	}
	return f, nil
}

// Types returns all registered type strings, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Defaults returns a registry holding the built-in subscriber types.
func Defaults() *Registry {
	r := NewRegistry()
	r.Register(LogFactory{})
	r.Register(HistoryFactory{})
	return r
}

func intParam(params map[string]interface{}, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("%s must be an integer, got %v", key, v)
}

func stringParam(params map[string]interface{}, key, def string) (string, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %v", key, v)
	}
	return s, nil
}

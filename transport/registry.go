package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

type backend struct {
	build Builder
	caps  Capabilities
}

// Registry maps backend names to builders. Backends register from their
// package init, the hub looks them up when a socket first needs one.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]backend
}

var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]backend)}
}

// Register adds a backend with no advertised guarantees. Sockets refuse to
// route over it until it is re-registered with capabilities.
func (r *Registry) Register(name string, build Builder) {
	r.RegisterWithCapabilities(name, build, Capabilities{Name: name})
}

// RegisterWithCapabilities adds or replaces a backend.
func (r *Registry) RegisterWithCapabilities(name string, build Builder, caps Capabilities) {
	if caps.Name == "" {
		caps.Name = name
	}
	r.mu.Lock()
	r.backends[name] = backend{build: build, caps: caps}
	r.mu.Unlock()
}

func (r *Registry) lookup(name string) (backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// GetCapabilities never fails: an unknown backend reports a zero set
// carrying only its name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	if b, ok := r.lookup(name); ok {
		return b.caps
	}
	return Capabilities{Name: name}
}

func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Build dials the named backend at addr. A nil logger is replaced by a no-op one.
func (r *Registry) Build(ctx context.Context, name string, cfg Config, addr string, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, errors.New("config is required")
	}
	b, ok := r.lookup(name)
	if !ok {
		return Transport{}, fmt.Errorf("unknown transport: %q (registered: %v)", name, r.Names())
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return b.build(ctx, cfg, addr, logger)
}

// Names is sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

func Register(name string, build Builder) {
	DefaultRegistry.Register(name, build)
}

func RegisterWithCapabilities(name string, build Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, build, caps)
}

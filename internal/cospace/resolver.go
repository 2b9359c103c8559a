package cospace

import (
	"sync"

	"github.com/fasttravel/realtime/internal/ids"
)

// Resolver upgrades a cospace id to a live CospaceHandle. It is the Go
// rendition of a non-owning actor handle: there is no
// native weak pointer, so the upgrade is a lookup that either succeeds
// (cospace still alive) or reports absence (cospace terminated, message
// dropped by the caller).
type Resolver interface {
	Resolve(id ids.CospaceID) (CospaceHandle, bool)
}

// DedicatedResolver backs a Service Pool allocated exclusively to one
// cospace (Dedicated mode). It ignores the requested id; a
// dedicated pool only ever serves the one cospace it was built for — and
// reports absence once that cospace has torn itself down.
type DedicatedResolver struct {
	get func() (*Actor, bool)
}

// NewDedicatedResolver wraps a liveness-checked accessor to the one
// cospace a dedicated pool belongs to.
func NewDedicatedResolver(get func() (*Actor, bool)) DedicatedResolver {
	return DedicatedResolver{get: get}
}

func (d DedicatedResolver) Resolve(ids.CospaceID) (CospaceHandle, bool) {
	a, ok := d.get()
	if !ok || a == nil {
		return nil, false
	}
	return a, true
}

// SharedRegistry is the map a Shared Service Pool indexes into: one node
// thread of cospaces sharing a single pool per service kind (Shared
// mode). Keyed lookup replaces a direct handle entirely, which is how the
// shared case sidesteps the cyclic-reference problem entirely.
type SharedRegistry struct {
	mu sync.RWMutex
	m  map[ids.CospaceID]*Actor
}

// NewSharedRegistry creates an empty registry.
func NewSharedRegistry() *SharedRegistry {
	return &SharedRegistry{m: make(map[ids.CospaceID]*Actor)}
}

// Put registers a now-hosted cospace with the node's shared registry.
func (s *SharedRegistry) Put(id ids.CospaceID, a *Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = a
}

// Remove drops a terminated cospace from the registry.
func (s *SharedRegistry) Remove(id ids.CospaceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
}

func (s *SharedRegistry) lookup(id ids.CospaceID) (*Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.m[id]
	return a, ok
}

// SharedResolver resolves by indexing into a node's SharedRegistry.
type SharedResolver struct {
	reg *SharedRegistry
}

// NewSharedResolver builds a resolver over a node's shared cospace registry.
func NewSharedResolver(reg *SharedRegistry) SharedResolver {
	return SharedResolver{reg: reg}
}

func (s SharedResolver) Resolve(id ids.CospaceID) (CospaceHandle, bool) {
	a, ok := s.reg.lookup(id)
	if !ok {
		return nil, false
	}
	return a, true
}

package manager

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fasttravel/realtime/internal/activity"
	"github.com/fasttravel/realtime/internal/cospace"
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/protocol"
)

// PoolSizes carries the per-service pool sizing into worker pool
// construction.
type PoolSizes struct {
	Core, Presence, Activity, Model int
}

// ServiceImpls bundles one instance of each of the four concrete service
// implementations a node wires up, plus the liveness Tracker their
// Activity instance reads from — the same Tracker the connection's
// Connection Service Actor writes to. Supplied fresh per cospace
// in Dedicated mode, once per node in Shared mode.
type ServiceImpls struct {
	Core, Presence, Activity, Model cospace.Service
	Tracker                         *activity.Tracker
}

// ServiceImplFactory builds a fresh set of service implementations. In
// Shared mode it is called once at node startup; in Dedicated mode once
// per cospace, so implementations that hold per-cospace state don't need
// to key it internally.
type ServiceImplFactory func() ServiceImpls

type hostedCospace struct {
	actor   *cospace.Actor
	tracker *activity.Tracker
}

// NodeManager lives on every worker (and on the main node, acting as its
// own worker for PlaceMain) and instantiates Cospace Actors on request.
type NodeManager struct {
	shared    bool
	factory   ServiceImplFactory
	poolSizes PoolSizes
	log       zerolog.Logger

	sharedReg     *cospace.SharedRegistry
	sharedPool    *cospace.ServicePool
	sharedTracker *activity.Tracker

	mu     sync.Mutex
	hosted map[ids.CospaceID]hostedCospace
}

// NewSharedNodeManager builds a node manager that hosts every cospace
// it's asked to create against one fixed, node-wide ServicePool (Shared
// mode): the four service implementations are constructed once,
// and resolve their target cospace by indexing a SharedRegistry. The
// Tracker returned by factory is likewise shared node-wide, keyed by
// full ClientId so cospaces never collide.
func NewSharedNodeManager(factory ServiceImplFactory, sizes PoolSizes, log zerolog.Logger) *NodeManager {
	reg := cospace.NewSharedRegistry()
	resolver := cospace.NewSharedResolver(reg)
	impls := factory()
	pool := cospace.NewServicePool(
		cospace.NewServiceWorkers(protocol.ServiceCore, impls.Core, resolver, sizes.Core, log),
		cospace.NewServiceWorkers(protocol.ServicePresence, impls.Presence, resolver, sizes.Presence, log),
		cospace.NewServiceWorkers(protocol.ServiceActivity, impls.Activity, resolver, sizes.Activity, log),
		cospace.NewServiceWorkers(protocol.ServiceModel, impls.Model, resolver, sizes.Model, log),
	)
	return &NodeManager{
		shared:        true,
		factory:       factory,
		poolSizes:     sizes,
		log:           log,
		sharedReg:     reg,
		sharedPool:    pool,
		sharedTracker: impls.Tracker,
		hosted:        make(map[ids.CospaceID]hostedCospace),
	}
}

// NewDedicatedNodeManager builds a node manager that constructs a fresh
// ServicePool per cospace, each bound by a DedicatedResolver weak
// reference back to that one cospace's Actor (Dedicated mode).
// Typically paired with a worker process spawned to host exactly one
// cospace.
func NewDedicatedNodeManager(factory ServiceImplFactory, sizes PoolSizes, log zerolog.Logger) *NodeManager {
	return &NodeManager{
		shared:    false,
		factory:   factory,
		poolSizes: sizes,
		log:       log,
		hosted:    make(map[ids.CospaceID]hostedCospace),
	}
}

// CreateCospaceActor implements the worker-side handler for the
// CreateCospaceActor cluster message. It satisfies the
// NodeClient interface so the Cospace Manager can call it identically
// whether the node is local (in-process) or remote (over NATS via
// internal/transport).
func (n *NodeManager) CreateCospaceActor(_ context.Context, req CreateCospaceActorRequest) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.hosted[req.ID]; exists {
		return false, nil
	}

	var actor *cospace.Actor
	tracker := n.sharedTracker
	if n.shared {
		actor = cospace.NewActor(req.ID, req.Root, n.sharedPool, n.log)
		n.sharedReg.Put(req.ID, actor)
	} else {
		resolver := cospace.NewDedicatedResolver(func() (*cospace.Actor, bool) {
			return actor, actor != nil && actor.IsAlive()
		})
		impls := n.factory()
		tracker = impls.Tracker
		pool := cospace.NewServicePool(
			cospace.NewServiceWorkers(protocol.ServiceCore, impls.Core, resolver, n.poolSizes.Core, n.log),
			cospace.NewServiceWorkers(protocol.ServicePresence, impls.Presence, resolver, n.poolSizes.Presence, n.log),
			cospace.NewServiceWorkers(protocol.ServiceActivity, impls.Activity, resolver, n.poolSizes.Activity, n.log),
			cospace.NewServiceWorkers(protocol.ServiceModel, impls.Model, resolver, n.poolSizes.Model, n.log),
		)
		actor = cospace.NewActor(req.ID, req.Root, pool, n.log)
	}

	n.hosted[req.ID] = hostedCospace{actor: actor, tracker: tracker}
	n.log.Info().Str("cospace", req.ID.String()).Bool("shared", n.shared).Msg("cospace_actor_created")
	return true, nil
}

// Lookup returns the actor this node is hosting for id, if any; the
// per-connection wiring uses it to bind a freshly admitted socket to
// its cospace.
func (n *NodeManager) Lookup(id ids.CospaceID) (*cospace.Actor, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, ok := n.hosted[id]
	return h.actor, ok
}

// TrackerFor returns the liveness Tracker backing id's Activity service,
// so the per-connection Connection Service Actor can write into the same
// Tracker its cospace's Activity service reads from.
func (n *NodeManager) TrackerFor(id ids.CospaceID) (*activity.Tracker, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	h, ok := n.hosted[id]
	return h.tracker, ok
}

// Terminate stops and forgets a hosted cospace.
func (n *NodeManager) Terminate(id ids.CospaceID) {
	n.mu.Lock()
	h, ok := n.hosted[id]
	if ok {
		delete(n.hosted, id)
	}
	n.mu.Unlock()

	if !ok {
		return
	}
	h.actor.Close()
	if n.shared {
		n.sharedReg.Remove(id)
	}
}

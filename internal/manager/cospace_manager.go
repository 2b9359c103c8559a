package manager

import (
	"context"
	goerrors "errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/fasttravel/realtime/internal/errors"
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/registry"
)

// DefaultScheduleTimeout bounds how long a cospace may sit in Scheduled
// before the sweep marks it Failed, matching the promise table's default
// entry lifetime.
const DefaultScheduleTimeout = 30 * time.Second

// Observer is notified of every lifecycle transition the manager makes.
// Observers back the audit trail and the Redis status mirror; they are
// called synchronously and must not block placement.
type Observer interface {
	Transition(id ids.CospaceID, root ids.ModelRoot, status registry.Status, detail string)
}

// CospaceManager lives on the main node. It is the single entry point
// new cospaces are scheduled through, regardless of which node ends up
// hosting them.
type CospaceManager struct {
	reg       *registry.Registry
	policy    PlacementPolicy
	mainNode  NodeClient
	shared    NodeClient
	launcher  WorkerLauncher
	observers []Observer
	log       zerolog.Logger
}

// New builds a Cospace Manager. shared and launcher may be nil if the
// deployment never uses Shared or Dedicated placement respectively;
// attempting that placement mode then fails fast.
func New(reg *registry.Registry, policy PlacementPolicy, mainNode, shared NodeClient, launcher WorkerLauncher, log zerolog.Logger) *CospaceManager {
	return &CospaceManager{reg: reg, policy: policy, mainNode: mainNode, shared: shared, launcher: launcher, log: log}
}

// Observe registers an observer for lifecycle transitions. Call during
// wiring, before the manager starts taking requests.
func (m *CospaceManager) Observe(o Observer) {
	m.observers = append(m.observers, o)
}

func (m *CospaceManager) notify(id ids.CospaceID, root ids.ModelRoot, status registry.Status, detail string) {
	for _, o := range m.observers {
		o.Transition(id, root, status, detail)
	}
}

// SpawnAsync schedules a cospace and returns its id immediately;
// placement settles in the background, observable through StatusOf. The
// HTTP host endpoint answers from this: the client gets the uuid first
// and polls status until the placement lands.
func (m *CospaceManager) SpawnAsync(ctx context.Context, root ids.ModelRoot) (ids.CospaceID, error) {
	id := ids.NewCospaceID()
	if !m.reg.Schedule(id, root) {
		return ids.CospaceID{}, errors.PlacementFailed(id.String(), goerrors.New("cospace id already tracked"))
	}
	m.notify(id, root, registry.Scheduled, "")

	go func() {
		// Placement outlives the HTTP request that asked for it.
		bg, cancel := context.WithTimeout(context.Background(), DefaultScheduleTimeout)
		defer cancel()
		if err := m.placeScheduled(bg, id, root); err != nil {
			m.log.Error().Err(err).Str("cospace", id.String()).Msg("async_placement_failed")
		}
	}()
	return id, nil
}

// Spawn runs the placement policy and dispatches to the chosen spawn
// operation, returning only once the placement has settled.
func (m *CospaceManager) Spawn(ctx context.Context, root ids.ModelRoot) (ids.CospaceID, error) {
	switch m.policy.Decide(root) {
	case PlaceShared:
		return m.SpawnInShared(ctx, root)
	case PlaceDedicated:
		return m.SpawnInDedicated(ctx, root)
	default:
		return m.SpawnInMain(ctx, root)
	}
}

// SpawnInMain hosts the cospace on this process: the node manager
// address is already resolved, so there is no launch step.
func (m *CospaceManager) SpawnInMain(ctx context.Context, root ids.ModelRoot) (ids.CospaceID, error) {
	return m.spawnSync(ctx, root, PlaceMain)
}

// SpawnInShared hosts the cospace on the pre-resolved shared worker
// node.
func (m *CospaceManager) SpawnInShared(ctx context.Context, root ids.ModelRoot) (ids.CospaceID, error) {
	return m.spawnSync(ctx, root, PlaceShared)
}

// SpawnInDedicated runs the full dedicated algorithm: generate id,
// schedule, launch a worker, resolve its node manager, ask it to create
// the actor, and settle the scheduled entry to hosted or failed.
func (m *CospaceManager) SpawnInDedicated(ctx context.Context, root ids.ModelRoot) (ids.CospaceID, error) {
	return m.spawnSync(ctx, root, PlaceDedicated)
}

func (m *CospaceManager) spawnSync(ctx context.Context, root ids.ModelRoot, target Placement) (ids.CospaceID, error) {
	id := ids.NewCospaceID()
	if !m.reg.Schedule(id, root) {
		return ids.CospaceID{}, errors.PlacementFailed(id.String(), goerrors.New("cospace id already tracked"))
	}
	m.notify(id, root, registry.Scheduled, "")

	var err error
	switch target {
	case PlaceShared:
		err = m.placeOn(ctx, id, root, registry.ModeShared, 0, m.shared)
	case PlaceDedicated:
		err = m.placeDedicated(ctx, id, root)
	default:
		err = m.placeOn(ctx, id, root, registry.ModeMain, 0, m.mainNode)
	}
	return id, err
}

// placeScheduled places an already-scheduled cospace per the policy.
func (m *CospaceManager) placeScheduled(ctx context.Context, id ids.CospaceID, root ids.ModelRoot) error {
	switch m.policy.Decide(root) {
	case PlaceShared:
		return m.placeOn(ctx, id, root, registry.ModeShared, 0, m.shared)
	case PlaceDedicated:
		return m.placeDedicated(ctx, id, root)
	default:
		return m.placeOn(ctx, id, root, registry.ModeMain, 0, m.mainNode)
	}
}

func (m *CospaceManager) placeDedicated(ctx context.Context, id ids.CospaceID, root ids.ModelRoot) error {
	if m.launcher == nil {
		m.fail(id, root, "no worker launcher configured")
		return errors.PlacementFailed(id.String(), goerrors.New("no worker launcher configured"))
	}

	nodeID, client, err := m.launcher.Launch(ctx)
	if err != nil {
		m.fail(id, root, "worker launch failed: "+err.Error())
		m.log.Error().Err(err).Str("cospace", id.String()).Msg("dedicated_worker_launch_failed")
		return errors.PlacementFailed(id.String(), err)
	}

	ok, err := client.CreateCospaceActor(ctx, CreateCospaceActorRequest{ID: id, Root: root})
	if err != nil || !ok {
		m.fail(id, root, "create-cospace-actor failed")
		_ = m.launcher.Shutdown(ctx, nodeID)
		m.log.Error().Err(err).Str("cospace", id.String()).Uint32("node_id", nodeID).
			Msg("dedicated_create_cospace_actor_failed")
		return errors.PlacementFailed(id.String(), goerrors.New("create cospace actor failed"))
	}

	return m.host(id, root, registry.ModeDedicated, nodeID)
}

// placeOn is the shared body of main/shared placement: the target node
// is already resolved, so it is a single create-actor ask.
func (m *CospaceManager) placeOn(ctx context.Context, id ids.CospaceID, root ids.ModelRoot, mode registry.Mode, nodeID uint32, client NodeClient) error {
	if client == nil {
		m.fail(id, root, "no node configured for this placement")
		return errors.PlacementFailed(id.String(), goerrors.New("no node configured for this placement"))
	}

	ok, err := client.CreateCospaceActor(ctx, CreateCospaceActorRequest{ID: id, Root: root})
	if err != nil || !ok {
		m.fail(id, root, "create-cospace-actor failed")
		m.log.Error().Err(err).Str("cospace", id.String()).Msg("place_create_cospace_actor_failed")
		return errors.PlacementFailed(id.String(), goerrors.New("create cospace actor failed"))
	}

	return m.host(id, root, mode, nodeID)
}

func (m *CospaceManager) fail(id ids.CospaceID, root ids.ModelRoot, reason string) {
	if m.reg.MarkFailed(id, reason) {
		m.notify(id, root, registry.Failed, reason)
	}
}

func (m *CospaceManager) host(id ids.CospaceID, root ids.ModelRoot, mode registry.Mode, nodeID uint32) error {
	if !m.reg.MarkHosted(id, mode, nodeID, nodeHandle{id}) {
		m.log.Error().Str("cospace", id.String()).Msg("mark_hosted_raced")
		return errors.PlacementFailed(id.String(), goerrors.New("concurrent placement conflict"))
	}
	m.notify(id, root, registry.Hosted, "")
	return nil
}

// HostedCospaces lists every cospace currently hosted somewhere.
func (m *CospaceManager) HostedCospaces() []registry.Entry {
	return m.reg.Hosted()
}

// StatusOf backs the /realtime/status/:cospace endpoint.
func (m *CospaceManager) StatusOf(id ids.CospaceID) registry.Status {
	return m.reg.StatusOf(id)
}

// Terminate tears a hosted cospace down: the worker that hosts it is
// shut down (dedicated mode) and the entry removed.
func (m *CospaceManager) Terminate(ctx context.Context, id ids.CospaceID) {
	e, ok := m.reg.Lookup(id)
	if !ok {
		return
	}
	if e.Mode == registry.ModeDedicated && m.launcher != nil {
		_ = m.launcher.Shutdown(ctx, e.NodeID)
	}
	m.reg.Terminate(id)
	m.notify(id, e.Root, registry.NotFound, "terminated")
}

// SweepScheduled expires Scheduled entries older than maxAge; call
// periodically from a ticker or the cron sweep scheduler.
func (m *CospaceManager) SweepScheduled(maxAge time.Duration) {
	expired := m.reg.SweepExpiredScheduled(maxAge)
	for _, id := range expired {
		m.log.Warn().Str("cospace", id.String()).Msg("scheduled_cospace_expired")
		e, ok := m.reg.Lookup(id)
		if ok {
			m.notify(id, e.Root, registry.Failed, e.Reason)
		}
	}
}

// nodeHandle is the minimal registry.Handle recorded for placements made
// through this package; the actual actor lives on the hosting node and
// is never shared directly with the main node for dedicated or remote
// shared placements.
type nodeHandle struct{ id ids.CospaceID }

func (h nodeHandle) ID() ids.CospaceID { return h.id }

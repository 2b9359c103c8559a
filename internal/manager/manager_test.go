package manager

import (
	"context"
	goerrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fasttravel/realtime/internal/activity"
	"github.com/fasttravel/realtime/internal/cospace"
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/registry"
)

type nopService struct{}

func (nopService) Tell(cospace.CospaceHandle, cospace.ClientMessage) {}
func (nopService) Ask(cospace.CospaceHandle, cospace.ClientMessage) cospace.AskResult {
	return cospace.AskResult{}
}
func (nopService) Connect(cospace.CospaceHandle, ids.ClientID)    {}
func (nopService) Disconnect(cospace.CospaceHandle, ids.ClientID) {}

func nopFactory() ServiceImpls {
	return ServiceImpls{
		Core:     nopService{},
		Presence: nopService{},
		Activity: nopService{},
		Model:    nopService{},
		Tracker:  activity.NewTracker(),
	}
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []registry.Status
}

func (o *recordingObserver) Transition(_ ids.CospaceID, _ ids.ModelRoot, status registry.Status, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, status)
}

func (o *recordingObserver) seen() []registry.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]registry.Status, len(o.transitions))
	copy(out, o.transitions)
	return out
}

// failingLauncher simulates an invalid worker binary path.
type failingLauncher struct{ shutdowns int }

func (l *failingLauncher) Launch(context.Context) (uint32, NodeClient, error) {
	return 0, nil, goerrors.New("exec: no such file or directory")
}

func (l *failingLauncher) Shutdown(context.Context, uint32) error {
	l.shutdowns++
	return nil
}

// decliningNode accepts the request but declines to host.
type decliningNode struct{}

func (decliningNode) CreateCospaceActor(context.Context, CreateCospaceActorRequest) (bool, error) {
	return false, nil
}

// launcherFor wraps a NodeClient in a single-use launcher.
type launcherFor struct {
	client    NodeClient
	shutdowns int
}

func (l *launcherFor) Launch(context.Context) (uint32, NodeClient, error) {
	return 7, l.client, nil
}

func (l *launcherFor) Shutdown(context.Context, uint32) error {
	l.shutdowns++
	return nil
}

func newMainManager(t *testing.T) (*CospaceManager, *NodeManager, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	nodes := NewSharedNodeManager(nopFactory, PoolSizes{}, zerolog.Nop())
	m := New(reg, MainOnly{}, nodes, nil, nil, zerolog.Nop())
	return m, nodes, reg
}

func TestSpawnInMainHosts(t *testing.T) {
	m, nodes, _ := newMainManager(t)

	id, err := m.SpawnInMain(context.Background(), ids.ModelRoot{Namespace: "n", Workspace: "w"})
	require.NoError(t, err)
	assert.Equal(t, registry.Hosted, m.StatusOf(id))

	actor, ok := nodes.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, id, actor.ID())
	assert.Len(t, m.HostedCospaces(), 1)
}

func TestSpawnInDedicatedLaunchFailureMarksFailed(t *testing.T) {
	reg := registry.New()
	launcher := &failingLauncher{}
	m := New(reg, DedicatedOnly{}, nil, nil, launcher, zerolog.Nop())

	id, err := m.SpawnInDedicated(context.Background(), ids.ModelRoot{})
	assert.Error(t, err)
	assert.Equal(t, registry.Failed, m.StatusOf(id))
}

func TestSpawnInDedicatedDeclinedShutsWorkerDown(t *testing.T) {
	reg := registry.New()
	launcher := &launcherFor{client: decliningNode{}}
	m := New(reg, DedicatedOnly{}, nil, nil, launcher, zerolog.Nop())

	id, err := m.SpawnInDedicated(context.Background(), ids.ModelRoot{})
	assert.Error(t, err)
	assert.Equal(t, registry.Failed, m.StatusOf(id))
	assert.Equal(t, 1, launcher.shutdowns, "partially-spawned worker must be torn down")
}

func TestSpawnInSharedWithoutSharedNodeFails(t *testing.T) {
	reg := registry.New()
	m := New(reg, SharedOnly{}, nil, nil, nil, zerolog.Nop())

	id, err := m.SpawnInShared(context.Background(), ids.ModelRoot{})
	assert.Error(t, err)
	assert.Equal(t, registry.Failed, m.StatusOf(id))
}

func TestSpawnAsyncSettlesToHosted(t *testing.T) {
	m, _, _ := newMainManager(t)

	id, err := m.SpawnAsync(context.Background(), ids.ModelRoot{Namespace: "n", Workspace: "w"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.StatusOf(id) == registry.Hosted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestObserverSeesLifecycle(t *testing.T) {
	m, _, _ := newMainManager(t)
	obs := &recordingObserver{}
	m.Observe(obs)

	_, err := m.SpawnInMain(context.Background(), ids.ModelRoot{})
	require.NoError(t, err)

	assert.Equal(t, []registry.Status{registry.Scheduled, registry.Hosted}, obs.seen())
}

func TestSpawnAsyncFailureNotifies(t *testing.T) {
	reg := registry.New()
	m := New(reg, DedicatedOnly{}, nil, nil, nil, zerolog.Nop())
	obs := &recordingObserver{}
	m.Observe(obs)

	id, _ := m.SpawnAsync(context.Background(), ids.ModelRoot{})
	// The async placement fails fast (no launcher); wait for it.
	require.Eventually(t, func() bool {
		return m.StatusOf(id) == registry.Failed
	}, 2*time.Second, 10*time.Millisecond)

	seen := obs.seen()
	require.NotEmpty(t, seen)
	assert.Equal(t, registry.Scheduled, seen[0])
	assert.Equal(t, registry.Failed, seen[len(seen)-1])
}

func TestNodeManagerDedicatedCreatesFreshPool(t *testing.T) {
	nm := NewDedicatedNodeManager(nopFactory, PoolSizes{}, zerolog.Nop())

	id := ids.NewCospaceID()
	ok, err := nm.CreateCospaceActor(context.Background(), CreateCospaceActorRequest{ID: id, Root: ids.ModelRoot{}})
	require.NoError(t, err)
	require.True(t, ok)

	actor, found := nm.Lookup(id)
	require.True(t, found)
	assert.Equal(t, id, actor.ID())

	// Same id is refused the second time.
	ok, err = nm.CreateCospaceActor(context.Background(), CreateCospaceActorRequest{ID: id, Root: ids.ModelRoot{}})
	require.NoError(t, err)
	assert.False(t, ok)

	nm.Terminate(id)
	_, found = nm.Lookup(id)
	assert.False(t, found)
	assert.False(t, actor.IsAlive())
}

func TestNodeManagerSharedThreadsNodePool(t *testing.T) {
	nm := NewSharedNodeManager(nopFactory, PoolSizes{}, zerolog.Nop())

	a := ids.NewCospaceID()
	b := ids.NewCospaceID()
	for _, id := range []ids.CospaceID{a, b} {
		ok, err := nm.CreateCospaceActor(context.Background(), CreateCospaceActorRequest{ID: id, Root: ids.ModelRoot{}})
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Both cospaces share the node-wide tracker.
	ta, ok := nm.TrackerFor(a)
	require.True(t, ok)
	tb, ok := nm.TrackerFor(b)
	require.True(t, ok)
	assert.Same(t, ta, tb)
}

func TestPlacementPolicies(t *testing.T) {
	assert.Equal(t, PlaceDedicated, DedicatedOnly{}.Decide(ids.ModelRoot{}))
	assert.Equal(t, PlaceShared, SharedOnly{}.Decide(ids.ModelRoot{}))
	assert.Equal(t, PlaceMain, MainOnly{}.Decide(ids.ModelRoot{}))

	assert.Equal(t, PlaceShared, ResourceAware{}.Decide(ids.ModelRoot{}))
	assert.Equal(t, PlaceShared, ResourceAware{NodePressure: func() bool { return false }}.Decide(ids.ModelRoot{}))
	assert.Equal(t, PlaceDedicated, ResourceAware{NodePressure: func() bool { return true }}.Decide(ids.ModelRoot{}))
}

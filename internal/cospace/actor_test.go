package cospace

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/protocol"
)

// recordingService captures everything routed to it.
type recordingService struct {
	mu          sync.Mutex
	tells       []ClientMessage
	connects    []ids.ClientID
	disconnects []ids.ClientID
	askReply    []byte
}

func (s *recordingService) Tell(_ CospaceHandle, msg ClientMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tells = append(s.tells, msg)
}

func (s *recordingService) Ask(_ CospaceHandle, msg ClientMessage) AskResult {
	return AskResult{Payload: s.askReply}
}

func (s *recordingService) Connect(_ CospaceHandle, c ids.ClientID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects = append(s.connects, c)
}

func (s *recordingService) Disconnect(_ CospaceHandle, c ids.ClientID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects = append(s.disconnects, c)
}

func (s *recordingService) tellCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tells)
}

func (s *recordingService) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connects)
}

// recordingEndpoint captures frames delivered to one client.
type recordingEndpoint struct {
	client ids.ClientID
	mu     sync.Mutex
	tells  [][]byte
}

func (e *recordingEndpoint) ClientID() ids.ClientID { return e.client }

func (e *recordingEndpoint) DeliverTell(_ protocol.Service, payload []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tells = append(e.tells, payload)
}

func (e *recordingEndpoint) DeliverAsk(_ protocol.Service, payload []byte) (AskResult, error) {
	return AskResult{Payload: append([]byte("echo:"), payload...)}, nil
}

func (e *recordingEndpoint) received() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tells)
}

func newTestActor(t *testing.T) (*Actor, *recordingService, *recordingService) {
	t.Helper()
	core := &recordingService{askReply: []byte("core-reply")}
	presence := &recordingService{}
	activity := &recordingService{}
	model := &recordingService{}

	var actor *Actor
	resolver := NewDedicatedResolver(func() (*Actor, bool) {
		return actor, actor != nil && actor.IsAlive()
	})
	pool := NewServicePool(
		NewServiceWorkers(protocol.ServiceCore, core, resolver, 1, zerolog.Nop()),
		NewServiceWorkers(protocol.ServicePresence, presence, resolver, 1, zerolog.Nop()),
		NewServiceWorkers(protocol.ServiceActivity, activity, resolver, 1, zerolog.Nop()),
		NewServiceWorkers(protocol.ServiceModel, model, resolver, 1, zerolog.Nop()),
	)
	actor = NewActor(ids.NewCospaceID(), ids.ModelRoot{Namespace: "n", Workspace: "w"}, pool, zerolog.Nop())
	t.Cleanup(actor.Close)
	return actor, core, presence
}

func TestGenerateClientIDMonotonic(t *testing.T) {
	actor, _, _ := newTestActor(t)

	for want := uint32(1); want <= 5; want++ {
		id := actor.GenerateClientID()
		assert.Equal(t, want, id.Seq)
		assert.Equal(t, actor.ID(), id.Cospace)
	}
}

func TestConnectBroadcastsToAllServices(t *testing.T) {
	actor, core, presence := newTestActor(t)

	client := actor.GenerateClientID()
	actor.HandleConnect(client, &recordingEndpoint{client: client})

	require.Eventually(t, func() bool {
		return core.connectCount() == 1 && presence.connectCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestClientTellRoutesToNamedService(t *testing.T) {
	actor, core, presence := newTestActor(t)

	client := actor.GenerateClientID()
	actor.ClientTell(TellMessage(client, ServiceRecipientOf(protocol.ServiceCore), Payload{Binary: []byte("x")}))

	require.Eventually(t, func() bool { return core.tellCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, presence.tellCount())
}

func TestClientTellBroadcastFansOutToAllServices(t *testing.T) {
	actor, core, presence := newTestActor(t)

	client := actor.GenerateClientID()
	actor.ClientTell(TellMessage(client, BroadcastRecipientOf(DefaultTopic), Payload{Text: "hi", IsText: true}))

	require.Eventually(t, func() bool {
		return core.tellCount() == 1 && presence.tellCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestClientAskReturnsServiceReply(t *testing.T) {
	actor, _, _ := newTestActor(t)

	client := actor.GenerateClientID()
	res := actor.ClientAsk(AskMessage(client, protocol.ServiceCore, Payload{Binary: []byte("q")}))
	assert.Equal(t, []byte("core-reply"), res.Payload)
	assert.False(t, res.TimedOut)
}

func TestServiceTellToUnknownClientIsDropped(t *testing.T) {
	actor, _, _ := newTestActor(t)

	// No panic, no delivery.
	actor.Tell(ServiceTellClient(protocol.ServiceCore, ids.ClientID{Seq: 42, Cospace: actor.ID()}, []byte("x")))
}

func TestServiceAskToUnknownClientErrors(t *testing.T) {
	actor, _, _ := newTestActor(t)

	_, err := actor.Ask(ServiceAskClient(protocol.ServiceCore, ids.ClientID{Seq: 42, Cospace: actor.ID()}, nil))
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestBroadcastSnapshotExcludesLateJoiners(t *testing.T) {
	actor, _, _ := newTestActor(t)

	var eps []*recordingEndpoint
	for i := 0; i < 3; i++ {
		client := actor.GenerateClientID()
		ep := &recordingEndpoint{client: client}
		eps = append(eps, ep)
		actor.HandleConnect(client, ep)
	}

	actor.Tell(ServiceTellBroadcast(protocol.ServiceCore, CospaceTopic(actor.ID()), []byte("fanout")))

	for _, ep := range eps {
		assert.Equal(t, 1, ep.received())
	}

	// A client attached after dispatch must not see the broadcast.
	late := actor.GenerateClientID()
	lateEp := &recordingEndpoint{client: late}
	actor.HandleConnect(late, lateEp)
	assert.Zero(t, lateEp.received())
}

func TestDisconnectRemovesFromFanOut(t *testing.T) {
	actor, _, _ := newTestActor(t)

	a := actor.GenerateClientID()
	b := actor.GenerateClientID()
	epA := &recordingEndpoint{client: a}
	epB := &recordingEndpoint{client: b}
	actor.HandleConnect(a, epA)
	actor.HandleConnect(b, epB)
	actor.HandleDisconnect(a)

	actor.Tell(ServiceTellBroadcast(protocol.ServiceCore, CospaceTopic(actor.ID()), []byte("x")))
	assert.Zero(t, epA.received())
	assert.Equal(t, 1, epB.received())
}

func TestDedicatedResolverExpiresWithActor(t *testing.T) {
	actor, _, _ := newTestActor(t)

	resolver := NewDedicatedResolver(func() (*Actor, bool) {
		return actor, actor.IsAlive()
	})

	_, ok := resolver.Resolve(actor.ID())
	require.True(t, ok)

	actor.Close()
	_, ok = resolver.Resolve(actor.ID())
	assert.False(t, ok)
}

func TestSharedResolverKeysByID(t *testing.T) {
	reg := NewSharedRegistry()
	resolver := NewSharedResolver(reg)

	actor, _, _ := newTestActor(t)
	reg.Put(actor.ID(), actor)

	got, ok := resolver.Resolve(actor.ID())
	require.True(t, ok)
	assert.Equal(t, actor.ID(), got.ID())

	_, ok = resolver.Resolve(ids.NewCospaceID())
	assert.False(t, ok)

	reg.Remove(actor.ID())
	_, ok = resolver.Resolve(actor.ID())
	assert.False(t, ok)
}

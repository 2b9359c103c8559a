package cospace

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fasttravel/realtime/internal/ids"
)

// ErrUnknownClient is returned when a service addresses a ClientId that is
// no longer (or never was) registered with the cospace's client map.
var ErrUnknownClient = errors.New("cospace: unknown client id")

// Actor is the Cospace Actor: one per hosted cospace, holding the
// client registry and routing client messages to the service pool and
// service messages back to specific clients or the whole cospace.
//
// State mutations are serialized through a single goroutine's mailbox:
// a channel of closures, drained one at a time, rather than direct
// mutex-guarded field access from arbitrary callers.
type Actor struct {
	id   ids.CospaceID
	root ids.ModelRoot
	pool *ServicePool
	log  zerolog.Logger

	clientSeq uint32
	clients   map[uint32]EndpointHandle

	mailbox   chan func()
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewActor creates and starts a Cospace Actor for an already-allocated
// id/model-root pair, bound to pool (either freshly built with a
// Dedicated resolver, or a Shared pool threaded in from the node).
func NewActor(id ids.CospaceID, root ids.ModelRoot, pool *ServicePool, log zerolog.Logger) *Actor {
	a := &Actor{
		id:      id,
		root:    root,
		pool:    pool,
		log:     log,
		clients: make(map[uint32]EndpointHandle),
		mailbox: make(chan func(), 256),
		stopCh:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Actor) run() {
	for {
		select {
		case <-a.stopCh:
			return
		case fn := <-a.mailbox:
			fn()
		}
	}
}

// Close stops the actor's mailbox goroutine. Callers that hold a
// Resolver over this actor will subsequently see it as expired.
func (a *Actor) Close() {
	a.closeOnce.Do(func() { close(a.stopCh) })
}

// submit runs fn on the actor's own goroutine and blocks until it has
// completed, giving callers a synchronous view of an otherwise
// message-passing actor — the same trick the Ask path relies on.
func (a *Actor) submit(fn func()) {
	done := make(chan struct{})
	a.mailbox <- func() {
		fn()
		close(done)
	}
	<-done
}

// IsAlive reports whether the actor's mailbox goroutine is still running.
// Dedicated resolvers use this as the "upgrade" check for their
// weak-reference emulation: a stopped actor is treated as expired
// even if the Go pointer itself is still reachable.
func (a *Actor) IsAlive() bool {
	select {
	case <-a.stopCh:
		return false
	default:
		return true
	}
}

// ID returns the cospace's identity.
func (a *Actor) ID() ids.CospaceID { return a.id }

// ModelRoot returns the persistent object tree this cospace hosts.
func (a *Actor) ModelRoot() ids.ModelRoot { return a.root }

// GenerateClientID assigns the next sequence number for a newly
// connecting client, starting at 1 and never reused within the
// cospace's lifetime.
func (a *Actor) GenerateClientID() ids.ClientID {
	var id ids.ClientID
	a.submit(func() {
		a.clientSeq++
		id = ids.ClientID{Seq: a.clientSeq, Cospace: a.id}
	})
	return id
}

// HandleConnect registers the endpoint under the client's id and
// broadcasts ClientConnectionMessage::Connect to every service in the
// pool so they can initialize per-client state.
func (a *Actor) HandleConnect(client ids.ClientID, ep EndpointHandle) {
	a.submit(func() {
		a.clients[client.Seq] = ep
	})
	a.pool.BroadcastConnect(client)
}

// HandleDisconnect removes the client's endpoint and forwards Disconnect
// to every service, so none of them accumulates stale per-client state.
func (a *Actor) HandleDisconnect(client ids.ClientID) {
	a.submit(func() {
		delete(a.clients, client.Seq)
	})
	a.pool.BroadcastDisconnect(client)
}

// ClientTell routes a ClientMessage::Tell to its destination: a single
// service, or a cospace-wide broadcast to all four.
func (a *Actor) ClientTell(msg ClientMessage) {
	if msg.To.Broadcast {
		a.pool.BroadcastTell(msg)
		return
	}
	a.pool.Tell(msg.To.Service, msg)
}

// ClientAsk forwards a ClientMessage::Ask to the named service's mailbox
// and returns the future it yields.
func (a *Actor) ClientAsk(msg ClientMessage) AskResult {
	return a.pool.Ask(msg.AskService, msg)
}

// Tell implements CospaceHandle for a service sending ServiceMessage::Tell,
// delivering to one endpoint or fanning out to every endpoint currently
// registered — a snapshot of the recipient set taken at dispatch time, so
// clients that connect afterward do not receive it.
func (a *Actor) Tell(msg ServiceMessage) {
	if msg.To.Broadcast {
		var snapshot []EndpointHandle
		a.submit(func() {
			snapshot = make([]EndpointHandle, 0, len(a.clients))
			for _, ep := range a.clients {
				snapshot = append(snapshot, ep)
			}
		})
		for _, ep := range snapshot {
			ep.DeliverTell(msg.Sender, msg.Payload)
		}
		return
	}

	var ep EndpointHandle
	var ok bool
	a.submit(func() { ep, ok = a.clients[msg.To.Client.Seq] })
	if !ok {
		a.log.Warn().Uint32("client_seq", msg.To.Client.Seq).Msg("service_message_unknown_client")
		return
	}
	ep.DeliverTell(msg.Sender, msg.Payload)
}

// Ask implements CospaceHandle for a service sending ServiceMessage::Ask,
// forwarding to the named client's endpoint and returning its future.
func (a *Actor) Ask(msg ServiceMessage) (AskResult, error) {
	var ep EndpointHandle
	var ok bool
	a.submit(func() { ep, ok = a.clients[msg.To.Client.Seq] })
	if !ok {
		return AskResult{}, ErrUnknownClient
	}
	return ep.DeliverAsk(msg.Sender, msg.Payload)
}

package cospace

import "github.com/fasttravel/realtime/internal/ids"

// Ref is the endpoint-side address of a Cospace Actor, location
// transparent: the actor may run in this process or on a worker node
// reached over the cluster transport. Every operation a Client
// Connection Endpoint needs from its cospace goes through this surface,
// so the endpoint never knows (or cares) where the actor lives.
type Ref interface {
	ID() ids.CospaceID

	// GenerateClientID asks the actor for the next client sequence
	// number. Remote refs surface transport failure as an error; a
	// local actor cannot fail.
	GenerateClientID() (ids.ClientID, error)

	// Connect registers ep under client with the actor's client map and
	// fans the connection notice out to the service pool.
	Connect(client ids.ClientID, ep EndpointHandle) error

	// Disconnect removes client from the actor's client map and notifies
	// the service pool. Delivery failure is logged by the implementation
	// and otherwise ignored: a dead cospace has no stale state to clean.
	Disconnect(client ids.ClientID)

	ClientTell(msg ClientMessage)
	ClientAsk(msg ClientMessage) AskResult
}

// LocalRef adapts an in-process *Actor to the Ref surface.
type LocalRef struct {
	Actor *Actor
}

func (l LocalRef) ID() ids.CospaceID { return l.Actor.ID() }

func (l LocalRef) GenerateClientID() (ids.ClientID, error) {
	return l.Actor.GenerateClientID(), nil
}

func (l LocalRef) Connect(client ids.ClientID, ep EndpointHandle) error {
	l.Actor.HandleConnect(client, ep)
	return nil
}

func (l LocalRef) Disconnect(client ids.ClientID) {
	l.Actor.HandleDisconnect(client)
}

func (l LocalRef) ClientTell(msg ClientMessage) { l.Actor.ClientTell(msg) }

func (l LocalRef) ClientAsk(msg ClientMessage) AskResult { return l.Actor.ClientAsk(msg) }

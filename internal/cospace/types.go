// Package cospace implements the per-cospace actor graph: the Cospace
// Actor that owns a collaboration space's client registry and routes
// messages between clients and services, and the Service Pool that
// bundles the four service-actor pools (Core, Presence, Activity, Model)
// a cospace is bound to.
//
// Each actor is a goroutine that owns private state and drains a
// channel-based mailbox one message at a time; a pool is N such
// goroutines sharing one input channel, so ordering is not preserved
// once a pool has more than one worker.
package cospace

import (
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/protocol"
)

// Payload carries one client-originated message body: either the decoded
// service-tagged Binary payload, or a debug-convenience Text frame (which
// carries no protocol semantics).
type Payload struct {
	Binary []byte
	Text   string
	IsText bool
}

// Topic labels a broadcast's intended scope. The core only ever has one
// scope per cospace (every broadcast fans out to every connected client of
// that cospace), so Topic is informational — it exists so the wire
// protocol's Broadcast(topic) shape has somewhere to go — rather than a
// dispatch key.
type Topic struct{ Label string }

// DefaultTopic is used for the debug-convenience Text-frame broadcast.
var DefaultTopic = Topic{Label: "default"}

// CospaceTopic labels a broadcast by the cospace it targets.
func CospaceTopic(id ids.CospaceID) Topic { return Topic{Label: id.String()} }

// Recipient is the target of a ClientMessage::Tell: either a single named
// service, or a cospace-wide broadcast.
type Recipient struct {
	Service   protocol.Service
	Broadcast bool
	Topic     Topic
}

// ServiceRecipientOf targets a single service by name.
func ServiceRecipientOf(s protocol.Service) Recipient { return Recipient{Service: s} }

// BroadcastRecipientOf targets every service in the pool with a
// ClientMessage broadcast under topic t.
func BroadcastRecipientOf(t Topic) Recipient { return Recipient{Broadcast: true, Topic: t} }

// ClientMessage is a message originating from a connected client, already
// classified by the Client Connection Endpoint as either a Tell (to a
// service or a broadcast) or an Ask (a correlated round-trip to one
// service).
type ClientMessage struct {
	Client     ids.ClientID
	Ask        bool
	AskService protocol.Service
	To         Recipient
	Payload    Payload
}

// TellMessage builds a ClientMessage::Tell.
func TellMessage(client ids.ClientID, to Recipient, payload Payload) ClientMessage {
	return ClientMessage{Client: client, To: to, Payload: payload}
}

// AskMessage builds a ClientMessage::Ask targeting a single service.
func AskMessage(client ids.ClientID, svc protocol.Service, payload Payload) ClientMessage {
	return ClientMessage{Client: client, Ask: true, AskService: svc, Payload: payload}
}

// ServiceRecipient is the target of a ServiceMessage: a specific client or
// a cospace-wide broadcast.
type ServiceRecipient struct {
	Client    ids.ClientID
	Broadcast bool
	Topic     Topic
}

// ServiceMessage is a message originating from a service actor, destined
// for one client (Tell/Ask) or every client in the cospace (Tell only).
type ServiceMessage struct {
	Sender  protocol.Service
	Ask     bool
	To      ServiceRecipient
	Payload []byte
}

// ServiceTellClient builds a ServiceMessage::Tell(Client(c)).
func ServiceTellClient(sender protocol.Service, client ids.ClientID, payload []byte) ServiceMessage {
	return ServiceMessage{Sender: sender, To: ServiceRecipient{Client: client}, Payload: payload}
}

// ServiceTellBroadcast builds a ServiceMessage::Tell(Broadcast(topic)).
func ServiceTellBroadcast(sender protocol.Service, topic Topic, payload []byte) ServiceMessage {
	return ServiceMessage{Sender: sender, To: ServiceRecipient{Broadcast: true, Topic: topic}, Payload: payload}
}

// ServiceAskClient builds a ServiceMessage::Ask(ClientId).
func ServiceAskClient(sender protocol.Service, client ids.ClientID, payload []byte) ServiceMessage {
	return ServiceMessage{Sender: sender, Ask: true, To: ServiceRecipient{Client: client}, Payload: payload}
}

// ConnKind distinguishes the two ClientConnectionMessage variants.
type ConnKind uint8

const (
	ConnConnect ConnKind = iota
	ConnDisconnect
)

// ClientConnectionMessage notifies services (and, for Connect, the
// cospace's client map) of a client attaching to or detaching from a
// cospace.
type ClientConnectionMessage struct {
	Kind     ConnKind
	Client   ids.ClientID
	Endpoint EndpointHandle // set only for Connect
}

// AskResult is the outcome of a correlated round-trip: either a payload,
// or TimedOut if the bounded promise lifetime elapsed first.
type AskResult struct {
	Payload  []byte
	TimedOut bool
}

// EndpointHandle is the cospace-side view of one Client Connection
// Endpoint: enough surface to deliver a ServiceMessage to the socket it
// owns. Implemented by *endpoint.Endpoint.
type EndpointHandle interface {
	ClientID() ids.ClientID
	DeliverTell(sender protocol.Service, payload []byte)
	DeliverAsk(sender protocol.Service, payload []byte) (AskResult, error)
}

// CospaceHandle is the non-owning back-reference a service actor resolves
// on each use to reach the cospace it is currently serving (a "weak
// reference", upgraded fresh per message so a service never extends a
// dying cospace's lifetime).
type CospaceHandle interface {
	ID() ids.CospaceID
	Tell(msg ServiceMessage)
	Ask(msg ServiceMessage) (AskResult, error)
}

// Service is the business-logic interface a concrete service actor
// implements. The routing fabric treats services as opaque collaborators; the
// four bundled kinds (Core/Presence/Activity/Model) and the per-connection
// Connection service all implement it.
type Service interface {
	Tell(cosp CospaceHandle, msg ClientMessage)
	Ask(cosp CospaceHandle, msg ClientMessage) AskResult
	Connect(cosp CospaceHandle, client ids.ClientID)
	Disconnect(cosp CospaceHandle, client ids.ClientID)
}

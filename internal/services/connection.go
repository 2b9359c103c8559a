// Package services provides the concrete service-actor implementations
// the fabric routes messages to: the per-connection Connection Service
// Actor that mediates admission, and the four per-cospace services
// (Core, Presence, Activity, Model) that fill out cospace.ServicePool.
package services

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/fasttravel/realtime/internal/activity"
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/protocol"
)

// TicketValidator is the admission dependency the Connection Service
// Actor needs; satisfied by *admission.Validator.ValidateMessageTicket.
type TicketValidator interface {
	ValidateMessageTicket(ticket string) bool
}

// DefaultHandshakeGrace is how long a socket is kept open after a failed
// handshake before it is forcibly disconnected, so a peer cannot
// retry failed handshakes on one socket indefinitely.
const DefaultHandshakeGrace = 3 * time.Second

// ConnectionServiceActor is spawned once per new connection by the
// server's connection wiring. It owns the handshake for that one client
// and records liveness into a cospace-wide Tracker shared with the
// cospace's Activity service.
type ConnectionServiceActor struct {
	client    ids.ClientID
	validator TicketValidator
	tracker   *activity.Tracker
	grace     time.Duration
	onFail    func()
	log       zerolog.Logger

	handshakeDone bool
}

// NewConnectionServiceActor builds the per-connection admission actor.
// onFail is invoked once, after a grace period, if the handshake fails —
// typically scheduling the endpoint's disconnect.
func NewConnectionServiceActor(client ids.ClientID, validator TicketValidator, tracker *activity.Tracker, onFail func(), log zerolog.Logger) *ConnectionServiceActor {
	return &ConnectionServiceActor{
		client:    client,
		validator: validator,
		tracker:   tracker,
		grace:     DefaultHandshakeGrace,
		onFail:    onFail,
		log:       log,
	}
}

// HandleFrame implements endpoint.ConnectionService. Only Request frames
// (the handshake) produce a response; Tell frames on the Connection
// service just refresh liveness.
func (c *ConnectionServiceActor) HandleFrame(client ids.ClientID, kind protocol.Kind, payload []byte) ([]byte, bool) {
	c.tracker.Touch(client)

	if kind != protocol.KindRequest {
		return nil, false
	}

	req, ok := protocol.DecodeHandshakeReq(payload)
	if !ok || req.Ticket == "" {
		c.log.Warn().Str("client", client.String()).Msg("handshake_missing_ticket")
		c.scheduleDisconnect()
		return c.reply(false), true
	}

	success := c.validator.ValidateMessageTicket(req.Ticket)
	if success {
		c.handshakeDone = true
	} else {
		c.log.Warn().Str("client", client.String()).Msg("handshake_invalid_ticket")
		c.scheduleDisconnect()
	}
	return c.reply(success), true
}

// HandshakeComplete reports whether this connection's admission
// handshake has already succeeded.
func (c *ConnectionServiceActor) HandshakeComplete() bool {
	return c.handshakeDone
}

func (c *ConnectionServiceActor) reply(success bool) []byte {
	return protocol.EncodeHandshakeRes(protocol.HandshakeRes{Success: success})
}

func (c *ConnectionServiceActor) scheduleDisconnect() {
	if c.onFail == nil {
		return
	}
	time.AfterFunc(c.grace, c.onFail)
}

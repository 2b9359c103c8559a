package cospace

import (
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/protocol"
)

// ServicePool bundles the four service-actor pools a cospace is bound to:
// Core, Presence, Activity, Model. The Connection service is
// deliberately not a member here — it is owned per Client Connection
// Endpoint for the admission handshake, not per cospace.
type ServicePool struct {
	core, presence, activity, model *ServiceWorkers
}

// NewServicePool assembles a pool from four already-started worker pools.
func NewServicePool(core, presence, activity, model *ServiceWorkers) *ServicePool {
	return &ServicePool{core: core, presence: presence, activity: activity, model: model}
}

// Workers returns the worker pool backing a named service, implementing
// the message_addr(service) operation. ok is false for the Connection
// service (never a pool member) or an unrecognized tag.
func (p *ServicePool) Workers(svc protocol.Service) (w *ServiceWorkers, ok bool) {
	switch svc {
	case protocol.ServiceCore:
		return p.core, true
	case protocol.ServicePresence:
		return p.presence, true
	case protocol.ServiceActivity:
		return p.activity, true
	case protocol.ServiceModel:
		return p.model, true
	default:
		return nil, false
	}
}

func (p *ServicePool) all() []*ServiceWorkers {
	return []*ServiceWorkers{p.core, p.presence, p.activity, p.model}
}

// Tell routes one client message to the named service's mailbox.
func (p *ServicePool) Tell(svc protocol.Service, msg ClientMessage) {
	if w, ok := p.Workers(svc); ok {
		w.Tell(msg)
	}
}

// Ask forwards a ClientMessage::Ask to the named service and returns its
// reply (or a timed-out AskResult for an unknown service tag).
func (p *ServicePool) Ask(svc protocol.Service, msg ClientMessage) AskResult {
	if w, ok := p.Workers(svc); ok {
		return w.Ask(msg)
	}
	return AskResult{TimedOut: true}
}

// BroadcastTell fans one client message out to all four
// services.
func (p *ServicePool) BroadcastTell(msg ClientMessage) {
	for _, w := range p.all() {
		w.Tell(msg)
	}
}

// BroadcastConnect notifies all four services of a new client so they can
// initialize per-client state.
func (p *ServicePool) BroadcastConnect(client ids.ClientID) {
	for _, w := range p.all() {
		w.Connect(client)
	}
}

// BroadcastDisconnect notifies all four services that a client has
// detached, so services can release per-client state.
func (p *ServicePool) BroadcastDisconnect(client ids.ClientID) {
	for _, w := range p.all() {
		w.Disconnect(client)
	}
}

package cospace

import (
	"github.com/rs/zerolog"

	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/protocol"
)

// DefaultMailboxSize bounds a service worker pool's shared input channel.
// A full mailbox means the service is falling behind; new Tells are
// logged and dropped rather than blocking the cospace actor, the same
// policy the endpoint applies to its socket send channel.
const DefaultMailboxSize = 256

type jobKind uint8

const (
	jobTell jobKind = iota
	jobAsk
	jobConnect
	jobDisconnect
)

type job struct {
	kind   jobKind
	client ids.ClientID
	msg    ClientMessage
	reply  chan AskResult
}

// ServiceWorkers is one named service's actor pool: N goroutines sharing a
// single mailbox channel. With pool size 1, per-client ordering through
// this service is preserved; with size > 1, workers race for jobs and
// ordering is not preserved.
type ServiceWorkers struct {
	kind     protocol.Service
	svc      Service
	resolver Resolver
	jobs     chan job
	log      zerolog.Logger
}

// NewServiceWorkers starts size worker goroutines running svc, resolving
// their cospace handle fresh on every job via resolver.
func NewServiceWorkers(kind protocol.Service, svc Service, resolver Resolver, size int, log zerolog.Logger) *ServiceWorkers {
	if size <= 0 {
		size = 1
	}
	w := &ServiceWorkers{
		kind:     kind,
		svc:      svc,
		resolver: resolver,
		jobs:     make(chan job, DefaultMailboxSize),
		log:      log,
	}
	for i := 0; i < size; i++ {
		go w.run()
	}
	return w
}

func (w *ServiceWorkers) run() {
	for j := range w.jobs {
		var cospaceID ids.CospaceID
		switch j.kind {
		case jobConnect, jobDisconnect:
			cospaceID = j.client.Cospace
		default:
			cospaceID = j.msg.Client.Cospace
		}

		cosp, ok := w.resolver.Resolve(cospaceID)
		if !ok {
			w.log.Debug().Str("service", w.kind.String()).Str("cospace", cospaceID.String()).
				Msg("service_cospace_handle_expired")
			if j.reply != nil {
				j.reply <- AskResult{}
			}
			continue
		}

		switch j.kind {
		case jobTell:
			w.svc.Tell(cosp, j.msg)
		case jobAsk:
			j.reply <- w.svc.Ask(cosp, j.msg)
		case jobConnect:
			w.svc.Connect(cosp, j.client)
		case jobDisconnect:
			w.svc.Disconnect(cosp, j.client)
		}
	}
}

// Tell enqueues a ClientMessage::Tell; a full mailbox logs and drops it.
func (w *ServiceWorkers) Tell(msg ClientMessage) {
	select {
	case w.jobs <- job{kind: jobTell, msg: msg}:
	default:
		w.log.Warn().Str("service", w.kind.String()).Msg("service_mailbox_full_dropping_tell")
	}
}

// Ask enqueues a ClientMessage::Ask and blocks for the service's reply.
func (w *ServiceWorkers) Ask(msg ClientMessage) AskResult {
	reply := make(chan AskResult, 1)
	select {
	case w.jobs <- job{kind: jobAsk, msg: msg, reply: reply}:
	default:
		w.log.Warn().Str("service", w.kind.String()).Msg("service_mailbox_full_dropping_ask")
		return AskResult{TimedOut: true}
	}
	return <-reply
}

// Connect enqueues a ClientConnectionMessage::Connect notification.
func (w *ServiceWorkers) Connect(client ids.ClientID) {
	select {
	case w.jobs <- job{kind: jobConnect, client: client}:
	default:
		w.log.Warn().Str("service", w.kind.String()).Msg("service_mailbox_full_dropping_connect")
	}
}

// Disconnect enqueues a ClientConnectionMessage::Disconnect notification.
func (w *ServiceWorkers) Disconnect(client ids.ClientID) {
	select {
	case w.jobs <- job{kind: jobDisconnect, client: client}:
	default:
		w.log.Warn().Str("service", w.kind.String()).Msg("service_mailbox_full_dropping_disconnect")
	}
}

// Package endpoint implements the Client Connection Endpoint: the
// routing nexus between one WebSocket socket and the cospace actor
// graph, split into a read pump and a write pump so a slow consumer on
// either side never blocks the other.
package endpoint

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fasttravel/realtime/internal/cospace"
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/promise"
	"github.com/fasttravel/realtime/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	// sendBufferSize backs the decoupled outbound channel between the
	// actor graph and the socket write pump.
	sendBufferSize = 256
)

// ConnectionService is the admission/liveness actor a Connection frame is
// routed to. It is intentionally narrower than cospace.Service: the
// Connection service never joins the per-cospace service pool.
type ConnectionService interface {
	// HandleFrame processes a Connection-tagged Tell or Request body and
	// returns a response payload when ok is true (Request path).
	HandleFrame(client ids.ClientID, kind protocol.Kind, payload []byte) (resp []byte, ok bool)
}

// Endpoint is the Client Connection Endpoint: one per socket.
type Endpoint struct {
	client  ids.ClientID
	conn    *websocket.Conn
	cosp    cospace.Ref
	connSvc ConnectionService

	send chan []byte

	// serverRequests correlates Asks the server initiates toward this
	// client. An Ask forwarded from the socket never needs an entry
	// here; the client keeps its own table for those.
	serverRequests *promise.Table

	log zerolog.Logger

	closeOnce  sync.Once
	disconnect func(ids.ClientID)
}

// New builds an Endpoint bound to an already-upgraded socket, a resolved
// cospace ref (local or remote), and the Connection service actor that
// mediates the handshake. disconnect is called exactly once when the
// socket closes, from either pump.
func New(client ids.ClientID, conn *websocket.Conn, cosp cospace.Ref, connSvc ConnectionService, log zerolog.Logger, disconnect func(ids.ClientID)) *Endpoint {
	return &Endpoint{
		client:         client,
		conn:           conn,
		cosp:           cosp,
		connSvc:        connSvc,
		send:           make(chan []byte, sendBufferSize),
		serverRequests: promise.New(promise.DefaultTimeout, log),
		log:            log,
		disconnect:     disconnect,
	}
}

// Run starts the read and write pumps and blocks until the read pump
// exits (i.e. until the socket closes). Callers typically invoke this
// from the HTTP handler goroutine that performed the WS upgrade.
func (e *Endpoint) Run() {
	go e.writePump()
	e.readPump()
}

// ClientID implements cospace.EndpointHandle.
func (e *Endpoint) ClientID() ids.ClientID { return e.client }

// DeliverTell implements cospace.EndpointHandle: encode a Tell envelope
// for sender's service and enqueue it to the socket.
func (e *Endpoint) DeliverTell(sender protocol.Service, payload []byte) {
	e.enqueue(protocol.MakeTell(sender, payload))
}

// DeliverAsk implements cospace.EndpointHandle: allocate a server-side
// request id, register a promise, encode a Request envelope, enqueue it,
// and block for the client's response.
func (e *Endpoint) DeliverAsk(sender protocol.Service, payload []byte) (cospace.AskResult, error) {
	id, ch := e.serverRequests.Register()
	e.enqueue(protocol.MakeRequest(id, sender, payload))

	result := <-ch
	return cospace.AskResult{Payload: result.Payload, TimedOut: result.TimedOut}, nil
}

// enqueue is a non-blocking send: a full or closed send channel is
// logged and the frame dropped, never blocking the caller.
func (e *Endpoint) enqueue(data []byte) {
	select {
	case e.send <- data:
	default:
		e.log.Warn().Str("client", e.client.String()).Msg("endpoint_send_buffer_full_dropping_frame")
	}
}

func (e *Endpoint) fireDisconnect() {
	e.closeOnce.Do(func() {
		// Wake anything still waiting on a response from this socket
		// before the table's sweeper goes away with it.
		e.serverRequests.ExpireAll()
		e.serverRequests.Close()
		if e.disconnect != nil {
			e.disconnect(e.client)
		}
	})
}

func (e *Endpoint) readPump() {
	defer func() {
		e.fireDisconnect()
		e.conn.Close()
	}()

	e.conn.SetReadLimit(maxMessageSize)
	e.conn.SetReadDeadline(time.Now().Add(pongWait))
	e.conn.SetPongHandler(func(string) error {
		e.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := e.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				e.log.Warn().Err(err).Str("client", e.client.String()).Msg("endpoint_unexpected_close")
			} else {
				e.log.Debug().Str("client", e.client.String()).Msg("endpoint_closed")
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			e.handleText(data)
		case websocket.BinaryMessage:
			e.handleBinary(data)
		}
	}
}

// handleText wraps a text frame as a cospace-wide broadcast Tell, no
// protocol semantics attached.
func (e *Endpoint) handleText(data []byte) {
	msg := cospace.TellMessage(e.client, cospace.BroadcastRecipientOf(cospace.DefaultTopic),
		cospace.Payload{Text: string(data), IsText: true})
	e.cosp.ClientTell(msg)
}

func (e *Endpoint) handleBinary(data []byte) {
	frame := protocol.Process(data)
	switch frame.Kind {
	case protocol.KindUndefined:
		e.log.Warn().Str("client", e.client.String()).Msg("endpoint_malformed_frame_dropped")
		return
	case protocol.KindTell:
		e.dispatchTell(frame)
	case protocol.KindRequest:
		e.dispatchRequest(frame)
	case protocol.KindResponse:
		e.serverRequests.Complete(frame.ResponseID, frame.Payload)
	}
}

func (e *Endpoint) dispatchTell(frame protocol.Frame) {
	if frame.Service == protocol.ServiceConnection {
		e.connSvc.HandleFrame(e.client, protocol.KindTell, frame.Payload)
		return
	}
	e.cospaceTell(frame.Service, frame.Payload)
}

func (e *Endpoint) dispatchRequest(frame protocol.Frame) {
	if frame.Service == protocol.ServiceConnection {
		resp, ok := e.connSvc.HandleFrame(e.client, protocol.KindRequest, frame.Payload)
		if ok {
			e.enqueue(protocol.MakeResponse(frame.RequestID, protocol.ServiceConnection, resp))
		}
		return
	}

	// The ask blocks on the service's reply; run it on its own
	// goroutine so the read pump keeps draining frames and multiple
	// requests may be in flight at once. Responses are correlated by
	// the echoed request id, not by arrival order.
	go func() {
		result := e.cospaceAsk(frame.Service, frame.Payload)
		if !result.TimedOut {
			e.enqueue(protocol.MakeResponse(frame.RequestID, frame.Service, result.Payload))
		}
	}()
}

// cospaceTell and cospaceAsk route to the Cospace Actor as
// client-originated Tell and Ask messages.
func (e *Endpoint) cospaceTell(svc protocol.Service, payload []byte) {
	e.cosp.ClientTell(cospace.TellMessage(e.client, cospace.ServiceRecipientOf(svc), cospace.Payload{Binary: payload}))
}

func (e *Endpoint) cospaceAsk(svc protocol.Service, payload []byte) cospace.AskResult {
	return e.cosp.ClientAsk(cospace.AskMessage(e.client, svc, cospace.Payload{Binary: payload}))
}

func (e *Endpoint) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		e.conn.Close()
	}()

	for {
		select {
		case data, ok := <-e.send:
			e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				e.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := e.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				e.log.Warn().Err(err).Str("client", e.client.String()).Msg("endpoint_write_error")
				e.fireDisconnect()
				return
			}
		case <-ticker.C:
			e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := e.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				e.log.Warn().Err(err).Str("client", e.client.String()).Msg("endpoint_ping_error")
				e.fireDisconnect()
				return
			}
		}
	}
}

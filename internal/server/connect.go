package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/fasttravel/realtime/internal/cospace"
	"github.com/fasttravel/realtime/internal/endpoint"
	"github.com/fasttravel/realtime/internal/errors"
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/registry"
	"github.com/fasttravel/realtime/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    []string{Subprotocol},
	// Admission is the ticket chain, not the Origin header; SDK clients
	// connect from arbitrary origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleConnect is the /realtime/connect/:cospace upgrade: validate the
// query ticket, resolve the hosted cospace, upgrade the socket, and run
// the per-connection creator sequence until the socket closes.
func (s *Server) handleConnect(c *gin.Context) {
	ticket := c.Query("ticket")
	if ticket == "" {
		errors.AbortWithError(c, errors.MissingCredentials())
		return
	}
	if _, err := s.validator.ValidateQueryTicket(ticket); err != nil {
		s.log.Warn().Err(err).Msg("query_ticket_rejected")
		errors.AbortWithError(c, errors.InvalidToken())
		return
	}

	id, err := ids.ParseCospaceID(c.Param("cospace"))
	if err != nil {
		errors.AbortWithError(c, errors.BadRequest("malformed cospace id"))
		return
	}

	entry, ok := s.reg.Lookup(id)
	if !ok || entry.Status != registry.Hosted {
		errors.AbortWithError(c, errors.NotFound("cospace"))
		return
	}

	ref, err := s.resolveRef(id)
	if err != nil {
		errors.HandleError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written its own HTTP error.
		s.log.Warn().Err(err).Msg("websocket_upgrade_failed")
		return
	}

	s.runConnection(conn, ref)
}

// resolveRef produces the location-transparent cospace address: the
// in-process actor when this node hosts the cospace, a cluster-transport
// ref otherwise.
func (s *Server) resolveRef(id ids.CospaceID) (cospace.Ref, error) {
	if actor, ok := s.nodes.Lookup(id); ok {
		return cospace.LocalRef{Actor: actor}, nil
	}
	if s.trans == nil {
		return nil, errors.InternalServer("cospace hosted remotely but cluster transport is not configured")
	}
	return s.trans.CospaceRef(id), nil
}

// runConnection is the creator sequence run once per admitted socket:
// ask the cospace for a client id, spawn the connection service actor,
// build the endpoint, expose it to remote services if needed, announce
// Connect, and pump until the socket dies. Disconnect is emitted exactly
// once on the way out, on both orderly and error-path closure.
func (s *Server) runConnection(conn *websocket.Conn, ref cospace.Ref) {
	client, err := ref.GenerateClientID()
	if err != nil {
		s.log.Error().Err(err).Str("cospace", ref.ID().String()).Msg("generate_client_id_failed")
		conn.Close()
		return
	}
	log := s.log.With().Str("client", client.String()).Logger()

	tracker := s.trackerFor(ref.ID())
	connSvc := services.NewConnectionServiceActor(client, s.validator, tracker, func() {
		// Failed handshake: force the socket closed after the grace
		// period; the read pump then fires the endpoint's disconnect.
		log.Info().Msg("handshake_failed_closing_socket")
		conn.Close()
	}, log)

	ep := endpoint.New(client, conn, ref, connSvc, log, func(c ids.ClientID) {
		ref.Disconnect(c)
	})

	var epServer interface{ Close() }
	if _, local := ref.(cospace.LocalRef); !local && s.trans != nil {
		srv, err := s.trans.ServeEndpoint(ep)
		if err != nil {
			log.Error().Err(err).Msg("endpoint_subjects_subscribe_failed")
			conn.Close()
			return
		}
		epServer = srv
	}

	if err := ref.Connect(client, ep); err != nil {
		log.Error().Err(err).Msg("cospace_connect_failed")
		if epServer != nil {
			epServer.Close()
		}
		conn.Close()
		return
	}

	log.Info().Msg("client_connected")
	ep.Run()

	if epServer != nil {
		epServer.Close()
	}
	log.Info().Msg("client_disconnected")
}

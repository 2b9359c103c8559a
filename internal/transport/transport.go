// Package transport carries actor messages across node processes over
// NATS: the Cospace Manager's CreateCospaceActor ask, worker discovery
// under the "node_mgr_root" tag, and the per-cospace client/service
// message fabric that makes a remote Cospace Actor addressable exactly
// like a local one.
//
// Addresses are subjects derived from stable identities (node id,
// cospace id, client id), never connection-specific state, which is what
// keeps delivery location transparent: a publisher needs to know who it
// is talking to, not where. Delivery is at-most-once; request paths
// surface failure to the sender as an error or a timed-out ask, and tell
// paths log and drop.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/fasttravel/realtime/internal/cospace"
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/manager"
	"github.com/fasttravel/realtime/internal/promise"
	"github.com/fasttravel/realtime/internal/protocol"
)

// DiscoveryTag is the well-known root every CospaceNodeManager registers
// under; all cluster subjects hang off it or off the cospace/endpoint
// prefixes below.
const DiscoveryTag = "node_mgr_root"

const (
	registerSubject = DiscoveryTag + ".register"

	createTimeout = 10 * time.Second
	genIDTimeout  = 5 * time.Second

	// askTimeout pads the promise-table lifetime so a remote ask expires
	// at the responder (delivering its timed-out sentinel) before the
	// transport gives up on the reply.
	askTimeout = promise.DefaultTimeout + 5*time.Second
)

func createSubject(nodeID uint32) string {
	return fmt.Sprintf("%s.%d.create", DiscoveryTag, nodeID)
}

func cospaceSubject(id ids.CospaceID, op string) string {
	return fmt.Sprintf("cospace.%s.%s", id.Hyphenless(), op)
}

func endpointSubject(client ids.ClientID, op string) string {
	return fmt.Sprintf("endpoint.%s.%d.%s", client.Cospace.Hyphenless(), client.Seq, op)
}

// Config mirrors the NATS connection settings of ClusterConfig.
type Config struct {
	URL      string
	Name     string
	User     string
	Password string
}

// Transport wraps one NATS connection shared by everything in the
// process that talks across node boundaries.
type Transport struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// Connect dials NATS with bounded reconnect behavior; connection-state
// transitions are logged, not surfaced, since individual sends already
// report their own failures.
func Connect(cfg Config, log zerolog.Logger) (*Transport, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats_disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats_reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("nats_async_error")
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("transport: connect to %s: %w", cfg.URL, err)
	}
	log.Info().Str("url", conn.ConnectedUrl()).Msg("nats_connected")
	return &Transport{conn: conn, log: log}, nil
}

// Close closes the underlying connection without draining it.
func (t *Transport) Close() {
	if t.conn != nil {
		t.conn.Close()
	}
}

// Registrar tracks worker registration announcements on the main node.
// A launcher schedules a worker process, then waits here for the
// worker's CospaceNodeManager to announce itself before handing out a
// client bound to it.
type Registrar struct {
	mu      sync.Mutex
	seen    map[uint32]struct{}
	waiters map[uint32][]chan struct{}
	sub     *nats.Subscription
	log     zerolog.Logger
}

// NewRegistrar subscribes to the registration subject.
func (t *Transport) NewRegistrar() (*Registrar, error) {
	r := &Registrar{
		seen:    make(map[uint32]struct{}),
		waiters: make(map[uint32][]chan struct{}),
		log:     t.log,
	}
	sub, err := t.conn.Subscribe(registerSubject, func(msg *nats.Msg) {
		nodeID, err := DecodeRegister(msg.Data)
		if err != nil {
			r.log.Error().Err(err).Msg("worker_registration_malformed")
			return
		}
		r.mu.Lock()
		r.seen[nodeID] = struct{}{}
		for _, ch := range r.waiters[nodeID] {
			close(ch)
		}
		delete(r.waiters, nodeID)
		r.mu.Unlock()
		r.log.Info().Uint32("node_id", nodeID).Msg("worker_registered")
	})
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe %s: %w", registerSubject, err)
	}
	r.sub = sub
	return r, nil
}

// WaitFor blocks until nodeID has announced itself or ctx expires.
func (r *Registrar) WaitFor(ctx context.Context, nodeID uint32) error {
	r.mu.Lock()
	if _, ok := r.seen[nodeID]; ok {
		r.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	r.waiters[nodeID] = append(r.waiters[nodeID], ch)
	r.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("transport: waiting for node %d registration: %w", nodeID, ctx.Err())
	}
}

// Forget drops a node's registration record, so a relaunched worker
// reusing the id must announce itself afresh.
func (r *Registrar) Forget(nodeID uint32) {
	r.mu.Lock()
	delete(r.seen, nodeID)
	r.mu.Unlock()
}

// Close unsubscribes the registrar.
func (r *Registrar) Close() {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
}

// RemoteNode is the Cospace Manager's client for a worker's
// CospaceNodeManager, satisfying manager.NodeClient over the wire.
type RemoteNode struct {
	t      *Transport
	nodeID uint32
}

// NodeClient builds a client addressing nodeID's node manager.
func (t *Transport) NodeClient(nodeID uint32) *RemoteNode {
	return &RemoteNode{t: t, nodeID: nodeID}
}

// CreateCospaceActor asks the remote node manager to host the cospace.
// ok=false with nil error is the node declining; transport failure and
// timeout come back as errors for the caller's placement bookkeeping.
func (n *RemoteNode) CreateCospaceActor(ctx context.Context, req manager.CreateCospaceActorRequest) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	msg, err := n.t.conn.RequestWithContext(reqCtx, createSubject(n.nodeID), EncodeCreateCospace(req.ID, req.Root))
	if err != nil {
		return false, fmt.Errorf("transport: create-cospace request to node %d: %w", n.nodeID, err)
	}
	ok, reason, err := DecodeAck(msg.Data)
	if err != nil {
		return false, err
	}
	if !ok && reason != "" {
		n.t.log.Warn().Uint32("node_id", n.nodeID).Str("reason", reason).Msg("create_cospace_declined")
	}
	return ok, nil
}

// RemoteCospace addresses a Cospace Actor hosted on another node,
// satisfying cospace.Ref so a Client Connection Endpoint wires to it
// exactly as it would to a local actor.
type RemoteCospace struct {
	t  *Transport
	id ids.CospaceID
}

// CospaceRef builds a remote ref for a cospace hosted elsewhere.
func (t *Transport) CospaceRef(id ids.CospaceID) *RemoteCospace {
	return &RemoteCospace{t: t, id: id}
}

func (c *RemoteCospace) ID() ids.CospaceID { return c.id }

func (c *RemoteCospace) GenerateClientID() (ids.ClientID, error) {
	msg, err := c.t.conn.Request(cospaceSubject(c.id, "genid"), nil, genIDTimeout)
	if err != nil {
		return ids.ClientID{}, fmt.Errorf("transport: generate client id for %s: %w", c.id, err)
	}
	seq, err := DecodeClientSeq(msg.Data)
	if err != nil {
		return ids.ClientID{}, err
	}
	return ids.ClientID{Seq: seq, Cospace: c.id}, nil
}

// Connect announces the client to the remote actor. The endpoint handle
// itself stays in this process; the remote side reaches it back through
// the endpoint subjects derived from the client id, so only the id
// crosses the wire.
func (c *RemoteCospace) Connect(client ids.ClientID, _ cospace.EndpointHandle) error {
	if err := c.t.conn.Publish(cospaceSubject(c.id, "conn"), EncodeConnMessage(cospace.ConnConnect, client)); err != nil {
		return fmt.Errorf("transport: connect %s: %w", client, err)
	}
	return nil
}

func (c *RemoteCospace) Disconnect(client ids.ClientID) {
	if err := c.t.conn.Publish(cospaceSubject(c.id, "conn"), EncodeConnMessage(cospace.ConnDisconnect, client)); err != nil {
		c.t.log.Warn().Err(err).Str("client", client.String()).Msg("remote_disconnect_dropped")
	}
}

func (c *RemoteCospace) ClientTell(msg cospace.ClientMessage) {
	if err := c.t.conn.Publish(cospaceSubject(c.id, "tell"), EncodeClientMessage(msg)); err != nil {
		c.t.log.Warn().Err(err).Str("cospace", c.id.String()).Msg("remote_client_tell_dropped")
	}
}

func (c *RemoteCospace) ClientAsk(msg cospace.ClientMessage) cospace.AskResult {
	reply, err := c.t.conn.Request(cospaceSubject(c.id, "ask"), EncodeClientMessage(msg), askTimeout)
	if err != nil {
		if !errors.Is(err, nats.ErrTimeout) {
			c.t.log.Warn().Err(err).Str("cospace", c.id.String()).Msg("remote_client_ask_failed")
		}
		return cospace.AskResult{TimedOut: true}
	}
	res, err := DecodeAskResult(reply.Data)
	if err != nil {
		c.t.log.Error().Err(err).Str("cospace", c.id.String()).Msg("remote_ask_result_malformed")
		return cospace.AskResult{TimedOut: true}
	}
	return res
}

// remoteEndpoint is the worker-side handle for a client whose socket
// lives on another node: cospace.EndpointHandle backed by the endpoint
// subjects rather than a send channel.
type remoteEndpoint struct {
	t      *Transport
	client ids.ClientID
}

func (e remoteEndpoint) ClientID() ids.ClientID { return e.client }

func (e remoteEndpoint) DeliverTell(sender protocol.Service, payload []byte) {
	msg := cospace.ServiceTellClient(sender, e.client, payload)
	if err := e.t.conn.Publish(endpointSubject(e.client, "tell"), EncodeServiceMessage(msg)); err != nil {
		e.t.log.Warn().Err(err).Str("client", e.client.String()).Msg("remote_service_tell_dropped")
	}
}

func (e remoteEndpoint) DeliverAsk(sender protocol.Service, payload []byte) (cospace.AskResult, error) {
	msg := cospace.ServiceAskClient(sender, e.client, payload)
	reply, err := e.t.conn.Request(endpointSubject(e.client, "ask"), EncodeServiceMessage(msg), askTimeout)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return cospace.AskResult{TimedOut: true}, nil
		}
		return cospace.AskResult{}, fmt.Errorf("transport: service ask to %s: %w", e.client, err)
	}
	return DecodeAskResult(reply.Data)
}

// NodeServer is the worker-side listener: it answers CreateCospaceActor
// requests for one node manager and attaches the per-cospace message
// subjects for every actor it creates.
type NodeServer struct {
	t      *Transport
	nodeID uint32
	nm     *manager.NodeManager
	log    zerolog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// ServeNodeManager registers nm under the discovery tag: it subscribes
// to the node's create subject and announces the node id so the main
// node's registrar unblocks. Call Close on shutdown.
func (t *Transport) ServeNodeManager(nodeID uint32, nm *manager.NodeManager) (*NodeServer, error) {
	s := &NodeServer{t: t, nodeID: nodeID, nm: nm, log: t.log}

	sub, err := t.conn.Subscribe(createSubject(nodeID), s.handleCreate)
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe create subject: %w", err)
	}
	s.subs = append(s.subs, sub)

	if err := t.conn.Publish(registerSubject, EncodeRegister(nodeID)); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("transport: announce node %d: %w", nodeID, err)
	}
	if err := t.conn.Flush(); err != nil {
		return nil, fmt.Errorf("transport: flush registration: %w", err)
	}
	return s, nil
}

func (s *NodeServer) handleCreate(msg *nats.Msg) {
	id, root, err := DecodeCreateCospace(msg.Data)
	if err != nil {
		s.log.Error().Err(err).Msg("create_cospace_malformed")
		s.reply(msg, EncodeAck(false, "malformed request"))
		return
	}

	ok, err := s.nm.CreateCospaceActor(context.Background(), manager.CreateCospaceActorRequest{ID: id, Root: root})
	if err != nil || !ok {
		reason := "declined"
		if err != nil {
			reason = err.Error()
		}
		s.reply(msg, EncodeAck(false, reason))
		return
	}

	actor, found := s.nm.Lookup(id)
	if !found {
		s.reply(msg, EncodeAck(false, "actor vanished after create"))
		return
	}
	if err := s.serveCospace(actor); err != nil {
		s.log.Error().Err(err).Str("cospace", id.String()).Msg("cospace_subjects_subscribe_failed")
		s.nm.Terminate(id)
		s.reply(msg, EncodeAck(false, "subject subscription failed"))
		return
	}
	s.reply(msg, EncodeAck(true, ""))
}

// serveCospace attaches the cospace's message subjects to a local actor,
// bridging remote endpoints into its client map and remote client
// messages into its mailbox.
func (s *NodeServer) serveCospace(actor *cospace.Actor) error {
	id := actor.ID()

	genSub, err := s.t.conn.Subscribe(cospaceSubject(id, "genid"), func(msg *nats.Msg) {
		client := actor.GenerateClientID()
		s.reply(msg, EncodeClientSeq(client.Seq))
	})
	if err != nil {
		return err
	}

	connSub, err := s.t.conn.Subscribe(cospaceSubject(id, "conn"), func(msg *nats.Msg) {
		kind, client, err := DecodeConnMessage(msg.Data)
		if err != nil {
			s.log.Error().Err(err).Msg("conn_message_malformed")
			return
		}
		switch kind {
		case cospace.ConnConnect:
			actor.HandleConnect(client, remoteEndpoint{t: s.t, client: client})
		case cospace.ConnDisconnect:
			actor.HandleDisconnect(client)
		}
	})
	if err != nil {
		_ = genSub.Unsubscribe()
		return err
	}

	tellSub, err := s.t.conn.Subscribe(cospaceSubject(id, "tell"), func(msg *nats.Msg) {
		cm, err := DecodeClientMessage(msg.Data)
		if err != nil {
			s.log.Error().Err(err).Msg("client_message_malformed")
			return
		}
		actor.ClientTell(cm)
	})
	if err != nil {
		_ = genSub.Unsubscribe()
		_ = connSub.Unsubscribe()
		return err
	}

	askSub, err := s.t.conn.Subscribe(cospaceSubject(id, "ask"), func(msg *nats.Msg) {
		cm, err := DecodeClientMessage(msg.Data)
		if err != nil {
			s.log.Error().Err(err).Msg("client_message_malformed")
			s.reply(msg, EncodeAskResult(cospace.AskResult{TimedOut: true}))
			return
		}
		// The ask blocks on the service pool; answer from a fresh
		// goroutine so one slow ask doesn't serialize the subject.
		go func() {
			s.reply(msg, EncodeAskResult(actor.ClientAsk(cm)))
		}()
	})
	if err != nil {
		_ = genSub.Unsubscribe()
		_ = connSub.Unsubscribe()
		_ = tellSub.Unsubscribe()
		return err
	}

	s.mu.Lock()
	s.subs = append(s.subs, genSub, connSub, tellSub, askSub)
	s.mu.Unlock()
	return nil
}

func (s *NodeServer) reply(msg *nats.Msg, data []byte) {
	if msg.Reply == "" {
		return
	}
	if err := s.t.conn.Publish(msg.Reply, data); err != nil {
		s.log.Warn().Err(err).Msg("cluster_reply_dropped")
	}
}

// Close drops every subscription this server holds.
func (s *NodeServer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

// EndpointServer exposes one local Client Connection Endpoint to remote
// cospace actors: service messages published to the endpoint subjects
// land back on the in-process handle.
type EndpointServer struct {
	subs []*nats.Subscription
}

// ServeEndpoint subscribes ep's tell and ask subjects. Call Close when
// the socket goes away.
func (t *Transport) ServeEndpoint(ep cospace.EndpointHandle) (*EndpointServer, error) {
	client := ep.ClientID()

	tellSub, err := t.conn.Subscribe(endpointSubject(client, "tell"), func(msg *nats.Msg) {
		sm, err := DecodeServiceMessage(msg.Data)
		if err != nil {
			t.log.Error().Err(err).Msg("service_message_malformed")
			return
		}
		ep.DeliverTell(sm.Sender, sm.Payload)
	})
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe endpoint tell: %w", err)
	}

	askSub, err := t.conn.Subscribe(endpointSubject(client, "ask"), func(msg *nats.Msg) {
		sm, err := DecodeServiceMessage(msg.Data)
		if err != nil {
			t.log.Error().Err(err).Msg("service_message_malformed")
			return
		}
		go func() {
			res, err := ep.DeliverAsk(sm.Sender, sm.Payload)
			if err != nil {
				res = cospace.AskResult{TimedOut: true}
			}
			if msg.Reply != "" {
				if err := t.conn.Publish(msg.Reply, EncodeAskResult(res)); err != nil {
					t.log.Warn().Err(err).Msg("endpoint_ask_reply_dropped")
				}
			}
		}()
	})
	if err != nil {
		_ = tellSub.Unsubscribe()
		return nil, fmt.Errorf("transport: subscribe endpoint ask: %w", err)
	}

	return &EndpointServer{subs: []*nats.Subscription{tellSub, askSub}}, nil
}

// Close unsubscribes the endpoint's subjects.
func (e *EndpointServer) Close() {
	for _, sub := range e.subs {
		_ = sub.Unsubscribe()
	}
}
